package engine

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"codemodctl/internal/bus"
	"codemodctl/internal/change"
)

// Settings are the user-facing knobs forwarded to the engine on every run.
type Settings struct {
	IncludePatterns []string
	ExcludePatterns []string
	ThreadCount     int
	FileLimit       int
	Format          bool
	Cache           bool
	ExtraArgs       []string
}

// GlobPattern anchors pattern at target. Globs always use forward slashes as
// their separator, whatever the host uses.
func GlobPattern(target, pattern string) string {
	parts := strings.Split(target, string(filepath.Separator))
	parts = append(parts, strings.TrimPrefix(pattern, "/"))
	return strings.Join(parts, "/")
}

// BuildArguments assembles the engine argument vector for a request.
// outputDir receives the engine's proposed file contents.
func BuildArguments(s Settings, req bus.ExecuteCodemodSet, outputDir string) ([]string, error) {
	var args []string
	switch req.Command.Kind {
	case change.ExecuteCodemod:
		args = append(args, req.Command.Name)
	case change.ExecuteLocalCodemod:
		args = append(args, "--source", req.Command.SourcePath)
	case change.ExecutePiranhaRule:
		args = append(args, "--engine", "piranha", "--source", req.Command.SourcePath, "--language", req.Command.Language)
	default:
		return nil, fmt.Errorf("unknown command kind %q", req.Command.Kind)
	}

	args = append(args, "--target", req.TargetPath)

	if req.TargetIsDirectory {
		for _, p := range s.IncludePatterns {
			g, err := anchored(req.TargetPath, p)
			if err != nil {
				return nil, err
			}
			args = append(args, "--include", g)
		}
		for _, p := range s.ExcludePatterns {
			g, err := anchored(req.TargetPath, p)
			if err != nil {
				return nil, err
			}
			args = append(args, "--exclude", g)
		}
	} else {
		args = append(args, "--include", filepath.ToSlash(req.TargetPath))
	}

	if s.ThreadCount > 0 {
		args = append(args, "--threads", strconv.Itoa(s.ThreadCount))
	}
	if s.FileLimit > 0 {
		args = append(args, "--limit", strconv.Itoa(s.FileLimit))
	}
	if s.Format {
		args = append(args, "--format")
	}
	if !s.Cache {
		args = append(args, "--no-cache")
	}
	args = append(args, "--json", "--dry", "--output-directory", outputDir)

	for _, a := range req.Command.Arguments {
		args = append(args, "--"+a.Name, a.Value)
	}
	return append(args, s.ExtraArgs...), nil
}

func anchored(target, pattern string) (string, error) {
	g := GlobPattern(target, pattern)
	if !doublestar.ValidatePattern(g) {
		return "", fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return g, nil
}
