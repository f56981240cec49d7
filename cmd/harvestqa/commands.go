package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/cestlavie/harvestqa/internal/api"
	"github.com/cestlavie/harvestqa/internal/config"
	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/evaluation"
	"github.com/cestlavie/harvestqa/internal/loader"
	"github.com/cestlavie/harvestqa/internal/pipeline"
	"github.com/cestlavie/harvestqa/internal/resultlog"
	"github.com/cestlavie/harvestqa/internal/retrieval"
	"github.com/cestlavie/harvestqa/internal/storage"
)

// --- ask ---

// asker answers one question. *pipeline.Session satisfies it.
type asker interface {
	Ask(ctx context.Context, question string, onDelta func(string)) (pipeline.Result, error)
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question about the dataset",
	Long: `Answer a question about the dataset.

With no question argument, ask reads questions from stdin, one per line,
until "exit" or end of input.

Examples:
  harvestqa ask 紅火焰共有多少顆？
  harvestqa ask --remote 大部分的產品狀態是什麽`,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")
		showPrompt, _ := cmd.Flags().GetBool("show-prompt")
		ctx := cmd.Context()

		if remote {
			if len(args) == 0 {
				return fmt.Errorf("--remote needs a question argument")
			}
			return askRemote(ctx, newAPIClient(cfg), strings.Join(args, " "), os.Stdout)
		}

		a, err := newApp(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) > 0 {
			res, err := streamAnswer(ctx, a.session, strings.Join(args, " "), os.Stdout)
			if err != nil {
				return err
			}
			if showPrompt {
				printPrompt(res)
			}
			return nil
		}
		return askLoop(ctx, a.session, os.Stdin, os.Stdout)
	},
}

func init() {
	askCmd.Flags().Bool("remote", false, "send the question to a running server")
	askCmd.Flags().Bool("show-prompt", false, "print the composed prompt after the answer")
}

// streamAnswer prints answer fragments to w as they arrive. A spinner runs
// on terminals until the first fragment.
func streamAnswer(ctx context.Context, s asker, question string, w io.Writer) (pipeline.Result, error) {
	sp := newSpinner("思考中...")
	var once sync.Once
	stopSpinner := func() {
		if sp != nil {
			once.Do(sp.Stop)
		}
	}
	if sp != nil {
		sp.Start()
	}

	streamed := false
	res, err := s.Ask(ctx, question, func(d string) {
		stopSpinner()
		streamed = true
		fmt.Fprint(w, d)
	})
	stopSpinner()
	if err != nil {
		return pipeline.Result{}, err
	}

	switch {
	case res.Answer.Failed():
		if streamed {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, colorize(red, res.Answer.Text))
	case res.Answer.Translated:
		fmt.Fprintln(w)
		fmt.Fprintln(w, colorize(cyan, "→ ")+res.Answer.Text)
	case streamed:
		fmt.Fprintln(w)
	default:
		fmt.Fprintln(w, res.Answer.Text)
	}
	return res, nil
}

func askLoop(ctx context.Context, s asker, in io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(os.Stderr, colorize(bold, "問題> "))
		if !sc.Scan() {
			fmt.Fprintln(os.Stderr)
			return sc.Err()
		}
		q := strings.TrimSpace(sc.Text())
		switch q {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if _, err := streamAnswer(ctx, s, q, w); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			printError("%v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func askRemote(ctx context.Context, c *apiClient, question string, w io.Writer) error {
	resp, err := c.post(ctx, "/v1/ask", api.AskRequest{Question: question})
	if err != nil {
		return err
	}
	var out api.AskResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if out.Failed {
		fmt.Fprintln(w, colorize(red, out.Answer))
		return nil
	}
	fmt.Fprintln(w, out.Answer)
	return nil
}

func printPrompt(res pipeline.Result) {
	fmt.Fprintln(os.Stderr)
	printStatus("Matched product", "%s", orDash(res.Prompt.MatchedProduct))
	printStatus("Topic", "%s", orDash(res.Prompt.Topic))
	printStatus("Filtered rows", "%d", res.Prompt.FilteredRows)
	for _, h := range res.Prompt.Snippets {
		printStatus(fmt.Sprintf("Snippet #%d", h.Position), "%.3f %s", h.Score, truncate(h.Document, 80))
	}
	fmt.Fprintln(os.Stderr, colorize(bold, "System prompt:"))
	fmt.Fprintln(os.Stderr, res.Prompt.System)
	fmt.Fprintln(os.Stderr, colorize(bold, "User prompt:"))
	fmt.Fprintln(os.Stderr, res.Prompt.User)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// --- eval ---

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score answers against expected answers and log the results",
	Long: `Score answers against expected answers and log the results.

Without --cases the built-in question set is used. A cases file is YAML:

  - question: 紅火焰共有多少顆？
    expected: 5105顆`,
	RunE: func(cmd *cobra.Command, args []string) error {
		casesPath, _ := cmd.Flags().GetString("cases")
		clearLog, _ := cmd.Flags().GetBool("clear")
		question, _ := cmd.Flags().GetString("question")
		expected, _ := cmd.Flags().GetString("expected")
		ctx := cmd.Context()

		cases, err := selectCases(casesPath, question, expected)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if clearLog {
			if err := a.harness.Clear(ctx); err != nil {
				return err
			}
			printStep("Cleared result log")
		}

		sum, err := a.harness.RunSuite(ctx, cases, func(i int, e resultlog.Entry) {
			printEntry(os.Stdout, i+1, e)
		})
		if err != nil {
			return err
		}
		printSummary(sum)
		return nil
	},
}

func init() {
	evalCmd.Flags().String("cases", "", "YAML file of question/expected pairs")
	evalCmd.Flags().Bool("clear", false, "clear the result log before running")
	evalCmd.Flags().String("question", "", "evaluate a single question")
	evalCmd.Flags().String("expected", "", "expected answer for --question")
}

func selectCases(path, question, expected string) ([]evaluation.Case, error) {
	switch {
	case question != "":
		if expected == "" {
			return nil, fmt.Errorf("--question needs --expected")
		}
		return []evaluation.Case{{Question: question, Expected: expected}}, nil
	case path != "":
		return evaluation.LoadCases(path)
	default:
		return evaluation.DefaultCases(), nil
	}
}

func passLabel(pass bool) string {
	if pass {
		return colorize(green, "PASS")
	}
	return colorize(red, "FAIL")
}

func printEntry(w io.Writer, n int, e resultlog.Entry) {
	fmt.Fprintf(w, "%s %s %.2f %.2fs  %s\n",
		colorize(bold, fmt.Sprintf("#%d", n)),
		passLabel(e.Pass),
		e.Accuracy,
		e.Duration,
		e.Question,
	)
	if !e.Pass {
		fmt.Fprintf(w, "    expected:  %s\n", e.ExpectedAnswer)
		fmt.Fprintf(w, "    generated: %s\n", truncate(strings.ReplaceAll(e.GeneratedAnswer, "\n", " "), 120))
	}
}

func printSummary(s evaluation.Summary) {
	fmt.Fprintln(os.Stderr)
	printStatus("Passed", "%d/%d", s.Passed, s.Passed+s.Failed)
	printStatus("Mean accuracy", "%.3f", s.MeanAccuracy)
	printStatus("Generation time", "%s", s.Duration.Round(10*time.Millisecond))
}

// --- results ---

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show logged evaluation results",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		orderName, _ := cmd.Flags().GetString("order")
		failures, _ := cmd.Flags().GetBool("failures")
		asJSON, _ := cmd.Flags().GetBool("json")

		order, err := resultlog.ParseOrder(orderName)
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := readResults(cmd.Context(), openResultLog(cfg, store), limit, order, failures)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No results logged.")
			return nil
		}
		for i, e := range entries {
			printEntry(os.Stdout, i+1, e)
		}
		return nil
	},
}

func init() {
	resultsCmd.Flags().Int("limit", 20, "maximum number of results (0 for all)")
	resultsCmd.Flags().String("order", "recent", "recent or first")
	resultsCmd.Flags().Bool("failures", false, "only show results that did not pass")
	resultsCmd.Flags().Bool("json", false, "print JSON")
}

func readResults(ctx context.Context, log resultlog.Log, limit int, order resultlog.Order, failuresOnly bool) ([]resultlog.Entry, error) {
	if !failuresOnly {
		return log.Entries(ctx, limit, order)
	}
	all, err := log.Entries(ctx, 0, order)
	if err != nil {
		return nil, err
	}
	var out []resultlog.Entry
	for _, e := range all {
		if e.Pass {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently answered questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.GetRecentInteractions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}
		for _, it := range items {
			printInteraction(os.Stdout, it)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		it, err := store.GetInteraction(cmd.Context(), args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no interaction %q", args[0])
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(it)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	historyCmd.AddCommand(historyShowCmd)
}

func printInteraction(w io.Writer, it storage.Interaction) {
	status := colorize(green, "ok")
	if it.Failed {
		status = colorize(red, "failed")
	}
	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		colorize(cyan, it.ID[:min(8, len(it.ID))]),
		it.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		status,
		truncate(it.Question, 60),
	)
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or inspect the embedding index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Re-embed every row and persist the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, appOptions{indexMode: retrieval.ModeBuild})
		if err != nil {
			return err
		}
		defer a.Close()

		ix := a.session.Index()
		printSuccess("Indexed %d rows with %s (dim %d)", ix.Len(), ix.Model(), ix.Dim())
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare the persisted index against the dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := inspectIndex(cfg)
		if err != nil {
			return err
		}
		printIndexStatus(st)
		return nil
	},
}

func init() {
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexStatusCmd)
}

type indexStatus struct {
	Dir       string
	Found     bool
	Model     string
	WantModel string
	Rows      int
	Indexed   int
	Report    dataset.Report
	Current   bool
	BuiltAt   string
}

func inspectIndex(cfg config.Config) (indexStatus, error) {
	st := indexStatus{Dir: cfg.IndexDir(), WantModel: cfg.Ollama.EmbedModel}

	raw, err := loader.LoadFile(cfg.DatasetPath())
	if err != nil {
		return st, err
	}
	schema := dataset.DefaultSchema()
	if cfg.Dataset.RootKey != "" {
		schema.RootKey = cfg.Dataset.RootKey
	}
	ds, report, err := dataset.Normalize(raw, schema)
	if err != nil {
		return st, err
	}
	st.Rows, st.Report = ds.Len(), report

	if !retrieval.Exists(st.Dir) {
		return st, nil
	}
	ix, found, err := retrieval.Load(st.Dir)
	if err != nil {
		return st, err
	}
	if !found {
		return st, nil
	}
	st.Found = true
	st.Model = ix.Model()
	st.Indexed = ix.Len()
	st.BuiltAt = ix.BuiltAt().Local().Format("2006-01-02 15:04:05")
	st.Current = ix.Model() == st.WantModel && ix.Hash() == ds.Hash()
	return st, nil
}

func printIndexStatus(st indexStatus) {
	printStatus("Index dir", "%s", st.Dir)
	printStatus("Dataset rows", "%d valid, %d excluded, %d inverted dates", st.Report.Valid, st.Report.Excluded, st.Report.Inverted)
	if !st.Found {
		printWarning("No persisted index; it will be built on first use")
		return
	}
	printStatus("Indexed rows", "%d", st.Indexed)
	printStatus("Model", "%s", st.Model)
	printStatus("Built", "%s", st.BuiltAt)
	if st.Current {
		printSuccess("Index is current")
		return
	}
	if st.Model != st.WantModel {
		printWarning("Index was built with %s; configured model is %s", st.Model, st.WantModel)
		return
	}
	printWarning("Dataset changed since the index was built")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(bold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ResetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Reset %s", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(config.FilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configPathCmd)
}
