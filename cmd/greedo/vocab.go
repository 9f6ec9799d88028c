package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/greedo/internal/logger"
	"github.com/samcharles93/greedo/internal/tokenizer"
)

func tokenizeCmd() *cli.Command {
	var (
		showTokens bool
		asJSON     bool
	)
	return &cli.Command{
		Name:      "tokenize",
		Usage:     "Encode text into token ids (reads stdin without arguments)",
		ArgsUsage: "[text...]",
		Flags: flagSet(configFlags(), vocabFlags(), loggingFlags(), []cli.Flag{
			&cli.BoolFlag{Name: "tokens", Usage: "print the pieces next to the ids", Destination: &showTokens},
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tok, err := loadTokenizerFor(ctx, cmd)
			if err != nil {
				return err
			}
			text, err := argsOrStdin(cmd.Args().Slice(), os.Stdin)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return writeTokenize(os.Stdout, tok, text, showTokens, asJSON)
		},
	}
}

func detokenizeCmd() *cli.Command {
	var perToken bool
	return &cli.Command{
		Name:      "detokenize",
		Usage:     "Decode token ids into text (ids separated by spaces or commas)",
		ArgsUsage: "<id>...",
		Flags: flagSet(configFlags(), vocabFlags(), loggingFlags(), []cli.Flag{
			&cli.BoolFlag{Name: "per-token", Usage: "print each id's fragment on its own line", Destination: &perToken},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tok, err := loadTokenizerFor(ctx, cmd)
			if err != nil {
				return err
			}
			text, err := argsOrStdin(cmd.Args().Slice(), os.Stdin)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ids, err := parseIDs(text)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if perToken {
				for _, id := range ids {
					fmt.Printf("%d\t%q\n", id, tok.DecodeToken(id))
				}
				return nil
			}
			fmt.Println(tok.Decode(ids))
			return nil
		},
	}
}

func vocabCmd() *cli.Command {
	var (
		lookup  string
		longest int64
	)
	return &cli.Command{
		Name:  "vocab",
		Usage: "Inspect a vocabulary: size, control ids, longest pieces, lookups",
		Flags: flagSet(configFlags(), vocabFlags(), loggingFlags(), []cli.Flag{
			&cli.StringFlag{Name: "lookup", Usage: "piece or id to look up", Destination: &lookup},
			&cli.Int64Flag{Name: "longest", Usage: "list the N longest pieces", Value: 5, Destination: &longest},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tok, err := loadTokenizerFor(ctx, cmd)
			if err != nil {
				return err
			}
			return writeVocabSummary(os.Stdout, tok, lookup, int(longest))
		},
	}
}

func loadTokenizerFor(ctx context.Context, cmd *cli.Command) (*tokenizer.SentencePiece, error) {
	ctx, err := setup(ctx, cmd)
	if err != nil {
		return nil, err
	}
	loader, err := newLoader(logger.FromContext(ctx))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	tok, _, err := loader.LoadTokenizer()
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: load vocabulary: %v", err), 1)
	}
	return tok, nil
}

func argsOrStdin(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return trimTrailingNewline(string(b)), nil
}

func parseIDs(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '[' || r == ']'
	})
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeTokenize(w io.Writer, tok *tokenizer.SentencePiece, text string, showTokens, asJSON bool) error {
	ids, stats := tok.EncodeWithStats(text)
	v := tok.Vocabulary()
	pieces := make([]string, len(ids))
	for i, id := range ids {
		pieces[i], _ = v.TokenOf(id)
	}

	if asJSON {
		b, err := json.Marshal(map[string]any{
			"ids":       ids,
			"tokens":    pieces,
			"unknown":   stats.Unknown,
			"byte_runs": stats.ByteRuns,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	if showTokens {
		for i, id := range ids {
			fmt.Fprintf(w, "%d\t%q\n", id, pieces[i])
		}
	} else {
		fmt.Fprintln(w, joinInts(ids))
	}
	if stats.Unknown > 0 {
		fmt.Fprintf(w, "# %d unknown\n", stats.Unknown)
	}
	return nil
}

func writeVocabSummary(w io.Writer, tok *tokenizer.SentencePiece, lookup string, longest int) error {
	v := tok.Vocabulary()
	sp := v.Specials()
	fmt.Fprintf(w, "size:          %d\n", v.Size())
	fmt.Fprintf(w, "id span:       %d\n", v.IDSpan())
	fmt.Fprintf(w, "max token len: %d runes\n", v.MaxTokenLen())
	fmt.Fprintf(w, "byte fallback: %t\n", tok.ByteFallback())
	fmt.Fprintf(w, "specials:      unk=%d bos=%d eos=%d line_break=%d\n", sp.UNK, sp.BOS, sp.EOS, sp.LineBreak)
	if m := v.Model(); m.Architecture != "" || m.ContextLength > 0 {
		fmt.Fprintf(w, "model:         %s context=%d\n", m.Architecture, m.ContextLength)
	}

	if longest > 0 {
		entries := v.Entries()
		sort.SliceStable(entries, func(i, j int) bool {
			return utf8.RuneCountInString(entries[i].Token) > utf8.RuneCountInString(entries[j].Token)
		})
		fmt.Fprintln(w, "longest:")
		for _, e := range entries[:min(longest, len(entries))] {
			fmt.Fprintf(w, "  %d\t%q\n", e.ID, e.Token)
		}
	}

	if lookup == "" {
		return nil
	}
	if id, err := strconv.Atoi(lookup); err == nil {
		piece, ok := v.TokenOf(id)
		if !ok {
			return fmt.Errorf("id %d is not in the vocabulary", id)
		}
		fmt.Fprintf(w, "lookup:        %d = %q\n", id, piece)
		return nil
	}
	id, ok := v.IDOf(lookup)
	if !ok {
		return fmt.Errorf("piece %q is not in the vocabulary", lookup)
	}
	fmt.Fprintf(w, "lookup:        %q = %d\n", lookup, id)
	return nil
}

func joinInts(ids []int) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}
