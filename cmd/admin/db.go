package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index.sqlite", "sqlite index path")
	session := fs.String("session", "", "session filter (saves, turns)")
	story := fs.String("story", "", "story name filter (stories)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "stories"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "stories":
		rows, err := db.Query(`SELECT digest,name,source_path,graph_path,warnings,compiled_at FROM stories WHERE (?='' OR name=?) ORDER BY compiled_at DESC LIMIT ?`, *story, *story, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Digest     string `json:"digest"`
				Name       string `json:"name"`
				SourcePath string `json:"source_path"`
				GraphPath  string `json:"graph_path"`
				Warnings   int    `json:"warnings"`
				CompiledAt string `json:"compiled_at"`
			}
			if err := rows.Scan(&r.Digest, &r.Name, &r.SourcePath, &r.GraphPath, &r.Warnings, &r.CompiledAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "saves":
		rows, err := db.Query(`SELECT id,session,story_digest,turn,created_at FROM saves WHERE (?='' OR session=?) ORDER BY created_at DESC LIMIT ?`, *session, *session, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID          string `json:"id"`
				Session     string `json:"session"`
				StoryDigest string `json:"story_digest"`
				Turn        int    `json:"turn"`
				CreatedAt   string `json:"created_at"`
			}
			if err := rows.Scan(&r.ID, &r.Session, &r.StoryDigest, &r.Turn, &r.CreatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "turns":
		if strings.TrimSpace(*session) == "" {
			fmt.Fprintln(os.Stderr, "missing -session")
			os.Exit(2)
		}
		rows, err := db.Query(`SELECT raw_json FROM turns WHERE session=? ORDER BY turn LIMIT ?`, *session, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			fmt.Println(raw)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(stories|saves|turns)")
		os.Exit(2)
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
