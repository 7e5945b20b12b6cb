package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"call-grader-go/internal/actionable"
	"call-grader-go/internal/aigrader"
	"call-grader-go/internal/config"
	"call-grader-go/internal/dataset"
	"call-grader-go/internal/pipeline"
	"call-grader-go/internal/processor"
	"call-grader-go/internal/rubric"
	"call-grader-go/internal/transcript"
	"call-grader-go/internal/transcription"
)

// cli holds the flags shared by every subcommand.
type cli struct {
	configFile string
	questions  string
	rubricPath string
	synonyms   string
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "grader",
		Short: "Grade emergency call transcripts against the call-taking protocol",
		Long: `grader scores diarized 911 call transcripts against a question rubric.

EXAMPLES:
  grader grade call.json --evidence
  grader grade --url https://transcripts.example.com/calls/42.json
  grader batch ./calls --xlsx grades.xlsx --concurrency 8
  grader render call.json`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default ./grader.yaml)")
	root.PersistentFlags().StringVar(&c.questions, "questions", "", "protocol question sheet (.xlsx or .csv)")
	root.PersistentFlags().StringVar(&c.rubricPath, "rubric", "", "rubric label document")
	root.PersistentFlags().StringVar(&c.synonyms, "synonyms", "", "synonym and evidence rule document")

	root.AddCommand(newGradeCommand(c), newBatchCommand(c), newRenderCommand())
	return root
}

func (c *cli) load() (config.Config, *processor.Processor, error) {
	cfg, err := config.Load(config.Options{ConfigFile: c.configFile})
	if err != nil {
		return config.Config{}, nil, err
	}
	if c.questions != "" {
		cfg.QuestionsPath = c.questions
	}
	if c.rubricPath != "" {
		cfg.RubricPath = c.rubricPath
	}
	if c.synonyms != "" {
		cfg.SynonymsPath = c.synonyms
	}

	var catalog *dataset.Catalog
	if cfg.QuestionsPath != "" {
		if catalog, err = dataset.Load(cfg.QuestionsPath); err != nil {
			return config.Config{}, nil, err
		}
	}
	ai, err := aigrader.New(cfg.AIGrader())
	if err != nil && !errors.Is(err, aigrader.ErrNotConfigured) {
		return config.Config{}, nil, err
	}
	proc, err := processor.New(processor.Options{
		Rubric:  rubric.LoadConfig(cfg.RubricOptions()),
		Catalog: catalog,
		Roles:   cfg.Roles(),
		Policy:  cfg.Policy(),
		AI:      ai,
	})
	return cfg, proc, err
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newGradeCommand(c *cli) *cobra.Command {
	var (
		evidence   bool
		natureCode string
		url        string
		grader     string
	)
	cmd := &cobra.Command{
		Use:   "grade [file]",
		Short: "Grade one transcript and print the JSON result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (url == "") {
				return errors.New("give either a transcript file or --url")
			}
			_, proc, err := c.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			var doc transcript.Document
			if url != "" {
				doc, err = transcription.NewClient().Fetch(ctx, url)
			} else {
				doc, err = transcript.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			req := processor.Request{Document: doc, NatureCode: natureCode, ShowEvidence: evidence}
			switch grader {
			case "rule":
				return writeJSON(cmd.OutOrStdout(), proc.Grade(req))
			case "ai":
				resp, err := proc.GradeAI(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), resp)
			case "all":
				resp, err := proc.Compare(ctx, req)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), resp)
			default:
				return fmt.Errorf("unknown grader %q (rule, ai, all)", grader)
			}
		},
	}
	cmd.Flags().BoolVar(&evidence, "evidence", false, "include the segment that justified each code")
	cmd.Flags().StringVar(&natureCode, "nature-code", "", "nature code of the call")
	cmd.Flags().StringVar(&url, "url", "", "fetch the transcript from this URL")
	cmd.Flags().StringVar(&grader, "grader", "rule", "rule, ai or all")
	return cmd
}

func newBatchCommand(c *cli) *cobra.Command {
	var (
		concurrency int
		timeout     time.Duration
		xlsxPath    string
		natureCode  string
		urlList     string
	)
	cmd := &cobra.Command{
		Use:   "batch [dir]",
		Short: "Grade every transcript in a directory or URL list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (urlList == "") {
				return errors.New("give either a directory or --urls")
			}
			cfg, proc, err := c.load()
			if err != nil {
				return err
			}
			var sources []pipeline.Source
			if urlList != "" {
				sources, err = urlSources(urlList)
			} else {
				sources, err = pipeline.DirSources(args[0])
			}
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				return errors.New("no transcripts found")
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = cfg.BatchConcurrency
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.CallTimeout
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			p := pipeline.New(proc,
				pipeline.WithConcurrency(concurrency),
				pipeline.WithTimeout(timeout),
				pipeline.WithNatureCode(natureCode),
			)
			results, err := p.Run(ctx, sources)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CALL\tSCORE\tMISSED\tERROR")
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(tw, "%s\t-\t-\t%v\n", r.Name, r.Err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%.1f\t%d\t\n", r.Name, r.Response.GradePercentage, r.Response.Summary.Missed)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			ins := pipeline.Insight(results, proc.Policy())
			card := actionable.Generate(ins)
			fmt.Fprintf(out, "\nmean score %.1f over %d calls\n%s\n  action: %s\n  impact: %s\n",
				ins.MeanPercentage, ins.Calls, card.Insight, card.Action, card.Impact)

			if xlsxPath != "" {
				if err := pipeline.WriteXLSX(xlsxPath, results, proc.Policy()); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote %s\n", xlsxPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "calls graded at once")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-call timeout")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write grades to this workbook")
	cmd.Flags().StringVar(&natureCode, "nature-code", "", "nature code for every call")
	cmd.Flags().StringVar(&urlList, "urls", "", "file with one transcript URL per line")
	return cmd
}

// urlSources reads one URL per line, skipping blanks and # comments.
func urlSources(path string) ([]pipeline.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	client := transcription.NewClient()
	var out []pipeline.Source
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, pipeline.URLSource(client, line))
	}
	return out, sc.Err()
}

func newRenderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render <file>",
		Short: "Print a transcript one segment per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := transcript.ReadFile(args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), transcript.Render(doc.Segments))
			return err
		},
	}
}
