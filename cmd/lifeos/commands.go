package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/lifeos/internal/config"
	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/importer"
	"github.com/kalambet/lifeos/internal/memory"
	"github.com/kalambet/lifeos/internal/orchestrator"
	"github.com/kalambet/lifeos/internal/profile"
)

const defaultUser = "default_user"

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant",
	Long: `Talk to the assistant in-process. With a message, one turn is run and
printed; without one, an interactive session starts (type "exit" to leave).

Examples:
  lifeos chat "今天要写报告、开会"
  lifeos chat --file ./todo.md
  lifeos chat --session default_user_20250101_090000_1a2b3c4d`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		session, _ := cmd.Flags().GetString("session")
		file, _ := cmd.Flags().GetString("file")

		message := strings.TrimSpace(strings.Join(args, " "))
		if file != "" {
			if message != "" {
				return errors.New("use either a message or --file, not both")
			}
			m, err := importer.Load(file)
			if err != nil {
				return err
			}
			message = m
		}

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		out := cmd.OutOrStdout()
		if message != "" {
			res, err := rt.controller.Run(cmd.Context(), user, message, session)
			if err != nil {
				return err
			}
			printReply(out, res)
			return nil
		}
		return repl(cmd, rt.controller, user, session)
	},
}

func init() {
	chatCmd.Flags().String("user", defaultUser, "user id")
	chatCmd.Flags().String("session", "", "session to continue (default: start a new one)")
	chatCmd.Flags().String("file", "", "read a to-do list from a text, Markdown or PDF file")
}

func repl(cmd *cobra.Command, c *orchestrator.Controller, user, session string) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "exit", "quit", "/exit", "/quit":
			return nil
		}

		res, err := c.Run(cmd.Context(), user, line, session)
		if err != nil {
			return err
		}
		session = res.SessionID
		printReply(out, res)
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func printReply(w io.Writer, res orchestrator.Result) {
	fmt.Fprintln(w, res.FinalOutput)
	meta := fmt.Sprintf("[%s %.2f · turn %d · %s]", res.Intent, res.Confidence, res.TurnNumber, res.SessionID)
	fmt.Fprintln(w, colorize(colorCyan, meta))
	if res.StorageDegraded {
		fmt.Fprintln(w, colorize(colorYellow, "⚠ this turn could not be saved"))
	}
}

// --- memory ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit what the assistant remembers",
}

var memoryRememberCmd = &cobra.Command{
	Use:   "remember <key> <value>",
	Short: "Remember a fact (the value may be JSON or plain text)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		typName, _ := cmd.Flags().GetString("type")
		ttl, _ := cmd.Flags().GetInt("ttl")

		typ, err := memory.ParseType(typName)
		if err != nil {
			return err
		}
		var ttlDays *int
		if cmd.Flags().Changed("ttl") {
			if ttl < 0 {
				return fmt.Errorf("--ttl must not be negative")
			}
			ttlDays = memory.Days(ttl)
		}
		key, raw := args[0], args[1]
		var value any = raw
		if json.Valid([]byte(raw)) {
			value = json.RawMessage(raw)
		}

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if _, err := rt.controller.Memory().Remember(cmd.Context(), user, key, value, typ, ttlDays, memory.FromUser); err != nil {
			return err
		}
		printSuccess("Remembered %s for %s", key, user)
		return nil
	},
}

var memoryRecallCmd = &cobra.Command{
	Use:   "recall <key|query>",
	Short: "Print a remembered value, or search memories with --search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		search, _ := cmd.Flags().GetBool("search")
		limit, _ := cmd.Flags().GetInt("limit")

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		mem := rt.controller.Memory()
		out := cmd.OutOrStdout()

		if search {
			entries, err := mem.Relevant(cmd.Context(), user, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No memories found.")
				return nil
			}
			printEntries(out, entries)
			return nil
		}

		value, ok, err := mem.Recall(cmd.Context(), user, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("nothing remembered under %q", args[0])
		}
		return printJSON(out, value)
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <key>",
	Short: "Forget one fact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		ok, err := rt.controller.Memory().Forget(cmd.Context(), user, args[0])
		if err != nil {
			return err
		}
		if !ok {
			printWarning("Nothing remembered under %s", args[0])
			return nil
		}
		printSuccess("Forgot %s", args[0])
		return nil
	},
}

var memoryForgetAllCmd = &cobra.Command{
	Use:   "forget-all",
	Short: "Forget everything about a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL memories of %s. Use --confirm to proceed.", user)
			return nil
		}

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		ok, err := rt.controller.Memory().ForgetAll(cmd.Context(), user)
		if err != nil {
			return err
		}
		if !ok {
			printWarning("Nothing remembered about %s", user)
			return nil
		}
		printSuccess("Forgot everything about %s", user)
		return nil
	},
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live memories, most recently used first",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		typName, _ := cmd.Flags().GetString("type")

		var typ memory.Type
		if typName != "" {
			t, err := memory.ParseType(typName)
			if err != nil {
				return err
			}
			typ = t
		}

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		entries, err := rt.controller.Memory().Entries(cmd.Context(), user, typ)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No memories found.")
			return nil
		}
		printEntries(cmd.OutOrStdout(), entries)
		return nil
	},
}

var memoryProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the profile derived from a user's memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		p, err := rt.controller.Profiles().Get(cmd.Context(), user)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if err := printJSON(out, p); err != nil {
			return err
		}
		fmt.Fprintln(out, colorize(colorCyan, profile.Summary(p)))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{memoryRememberCmd, memoryRecallCmd, memoryForgetCmd, memoryForgetAllCmd, memoryListCmd, memoryProfileCmd} {
		c.Flags().String("user", defaultUser, "user id")
		memoryCmd.AddCommand(c)
	}
	memoryRememberCmd.Flags().String("type", string(memory.Preference), "preference, routine, fact, goal, pattern or constraint")
	memoryRememberCmd.Flags().Int("ttl", 0, "days until the fact expires (default: never)")
	memoryRecallCmd.Flags().Bool("search", false, "search keys and values instead of an exact key")
	memoryRecallCmd.Flags().Int("limit", 5, "maximum number of search results")
	memoryForgetAllCmd.Flags().Bool("confirm", false, "confirm deletion")
	memoryListCmd.Flags().String("type", "", "only list this memory type")
}

func printEntries(w io.Writer, entries []memory.Entry) {
	for _, e := range entries {
		line := fmt.Sprintf("%s = %s", colorize(colorBold, e.Key), string(e.Value))
		line += fmt.Sprintf("  (%s, %s", e.Type, e.Source)
		if e.Confidence < 1 {
			line += fmt.Sprintf(", confidence %.2f", e.Confidence)
		}
		if exp := e.ExpiresAt(); !exp.IsZero() {
			line += ", expires " + exp.Format("2006-01-02")
		}
		fmt.Fprintln(w, line+")")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect conversation sessions",
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the most recent turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")

		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		turns, err := rt.controller.History().History(cmd.Context(), args[0], last)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(turns) == 0 {
			fmt.Fprintln(out, "No turns found.")
			return nil
		}
		for _, t := range turns {
			fmt.Fprintf(out, "%s %s  %s\n",
				colorize(colorCyan, "#"+strconv.Itoa(t.Number)),
				t.CreatedAt.Local().Format("2006-01-02 15:04"),
				colorize(colorBold, string(t.Intent)),
			)
			fmt.Fprintf(out, "  you: %s\n", t.UserMessage)
			fmt.Fprintf(out, "  assistant: %s\n", strings.ReplaceAll(t.AssistantMessage, "\n", "\n    "))
		}
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Show turn counts and the intent distribution of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		stats, err := rt.controller.History().Stats(cmd.Context(), args[0])
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("session %s not found", args[0])
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Turns: %d\n", stats.TotalTurns)
		fmt.Fprintf(out, "Started: %s\n", stats.StartedAt.Local().Format("2006-01-02 15:04"))
		fmt.Fprintf(out, "Last active: %s\n", stats.LastActiveAt.Local().Format("2006-01-02 15:04"))
		intents := make([]string, 0, len(stats.IntentDistribution))
		for in := range stats.IntentDistribution {
			intents = append(intents, in)
		}
		slices.Sort(intents)
		for _, in := range intents {
			fmt.Fprintf(out, "  %s: %d\n", in, stats.IntentDistribution[in])
		}
		return nil
	},
}

func init() {
	historyShowCmd.Flags().Int("last", history.DefaultWindow, "number of turns to show")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired and long-unused memories now",
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")

		var removed int
		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			resp, err := client.post(cmd.Context(), "/v1/maintenance/sweep", nil)
			if err != nil {
				return err
			}
			var result map[string]int
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			removed = result["removed"]
		} else {
			rt, err := loadRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if removed, err = rt.worker.RunOnce(cmd.Context()); err != nil {
				return err
			}
		}

		printSuccess("Removed %d memories", removed)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Bool("remote", false, "ask the running server to sweep")
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
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
