// Command cdump prints the contents of a trigram index for debugging.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/trigram"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		indexPath  = flag.String("index", "", "index file to dump")
		statsOnly  = flag.Bool("stats", false, "print only the summary, as JSON")
		postings   = flag.Bool("postings", false, "print the document IDs of every posting list")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: cdump [flags]")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, *indexPath, *statsOnly, *postings); err != nil {
		fmt.Fprintf(os.Stderr, "cdump: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func run(configPath, explicit string, statsOnly, postings bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if explicit == "" {
		explicit = cfg.Index.Path
	}
	path, err := config.ResolveIndexPath(explicit, false)
	if err != nil {
		return err
	}
	ix, err := index.Open(path)
	if err != nil {
		return err
	}
	defer ix.Close()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	st := ix.Stats()
	if statsOnly {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(out, "index %s\nversion %d\nbuild %s\ncreated %s\n", st.Path, st.Version, st.BuildID, st.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(out, "documents %d\ntrigrams %d\nbytes %d (paths %d, postings %d)\n", st.Documents, st.Trigrams, st.Bytes, st.PathBytes, st.PostingBytes)

	fmt.Fprintln(out, "\n# roots")
	for _, r := range st.Roots {
		fmt.Fprintln(out, r)
	}

	fmt.Fprintln(out, "\n# paths")
	if err := ix.ForEachPath(func(id uint32, p string) error {
		_, err := fmt.Fprintf(out, "%d %s\n", id, p)
		return err
	}); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n# postings")
	if postings {
		return ix.ForEachPosting(func(t trigram.T, docs []uint32) error {
			_, err := fmt.Fprintf(out, "%s %d %v\n", t.Quoted(), len(docs), docs)
			return err
		})
	}
	return ix.ForEachTrigram(func(t trigram.T, count int) error {
		_, err := fmt.Fprintf(out, "%s %d\n", t.Quoted(), count)
		return err
	})
}
