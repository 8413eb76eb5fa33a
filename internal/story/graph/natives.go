package graph

// Natives maps built-in function names to their argument counts.
var Natives = map[string]int{
	"TURNS":        0,
	"TURNS_SINCE":  1,
	"READ_COUNT":   1,
	"CHOICE_COUNT": 0,
	"RANDOM":       2,
	"SEED_RANDOM":  1,
	"INT":          1,
	"FLOAT":        1,
	"FLOOR":        1,
	"CEILING":      1,
	"POW":          2,
	"MIN":          2,
	"MAX":          2,
	"LIST_COUNT":   1,
	"LIST_MIN":     1,
	"LIST_MAX":     1,
	"LIST_VALUE":   1,
	"LIST_ALL":     1,
	"LIST_INVERT":  1,
	"LIST_RANDOM":  1,
	"LIST_ITEM":    2,
}
