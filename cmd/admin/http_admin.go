package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

type storyInfo struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Digest string `json:"digest,omitempty"`
}

type storiesReport struct {
	Stories  []storyInfo `json:"stories"`
	Sessions int         `json:"sessions"`
}

// storiesCmd asks a running play server which stories it serves.
func storiesCmd(args []string) {
	fs := flag.NewFlagSet("stories", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8090", "server base url")
	story := fs.String("story", "", "only show stories whose name contains this")
	raw := fs.Bool("json", false, "print the server response as JSON")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := fetchStories(ctx, http.DefaultClient, *baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stories:", err)
		os.Exit(1)
	}
	rep.Stories = filterStories(rep.Stories, *story)
	if *raw {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
		return
	}
	printStories(os.Stdout, rep)
}

func fetchStories(ctx context.Context, cl *http.Client, baseURL string) (storiesReport, error) {
	var rep storiesReport
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/stories"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return rep, err
	}
	resp, err := cl.Do(req)
	if err != nil {
		return rep, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return rep, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return rep, fmt.Errorf("decode: %w", err)
	}
	return rep, nil
}

func filterStories(in []storyInfo, sub string) []storyInfo {
	if sub == "" {
		return in
	}
	out := in[:0:0]
	for _, s := range in {
		if strings.Contains(s.Name, sub) {
			out = append(out, s)
		}
	}
	return out
}

func printStories(w io.Writer, rep storiesReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tDIGEST")
	for _, s := range rep.Stories {
		d := s.Digest
		if len(d) > 12 {
			d = d[:12]
		}
		if d == "" {
			d = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Kind, d)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d stories, %d active sessions\n", len(rep.Stories), rep.Sessions)
}
