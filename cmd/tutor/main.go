package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"deepdive-tutor/internal/bootstrap"
	"deepdive-tutor/internal/config"
	"deepdive-tutor/internal/domain"
)

var (
	// Global flags
	verbose  bool
	envFile  string
	mode     string
	audience string
	wordWrap int

	app *bootstrap.App
)

var rootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Deep-dive tutor: ask a question, then follow the suggestions",
	Long: `tutor is a terminal tutoring assistant. Each answer ends with suggested
follow-up questions and keywords; type a suggestion's number to dig deeper.

Configuration comes from the environment (and a .env file):
  LLM_PROVIDER, LLM_MODEL, GEMINI_API_KEY / OPENAI_API_KEY,
  TRANSCRIPT_BACKEND, TRANSCRIPT_DIR, TRANSCRIPT_DB, PERSONA_FILE.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app == nil {
			return nil
		}
		return app.Close()
	},
	RunE: runChat,
}

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "Manage saved conversations",
}

var transcriptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations, newest name first",
	Args:  cobra.NoArgs,
	RunE:  listTranscripts,
}

var transcriptsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  showTranscript,
}

var transcriptsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteTranscript,
}

var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Render a saved model response (or - for stdin) as the tutor would",
	Args:  cobra.ExactArgs(1),
	RunE:  renderFile,
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List persona modes and audience levels",
	Args:  cobra.NoArgs,
	RunE:  listPersonas,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load if present")
	rootCmd.PersistentFlags().StringVarP(&mode, "mode", "m", "", "Persona mode (default from persona configuration)")
	rootCmd.PersistentFlags().StringVarP(&audience, "audience", "a", "", "Audience level (default from persona configuration)")
	rootCmd.PersistentFlags().IntVar(&wordWrap, "wrap", 80, "Word wrap width for rendered answers")
	rootCmd.PersistentFlags().StringVar(&markdownStyle, "style", "", "Markdown style (dark, light, notty, ...); detected when empty")

	transcriptsCmd.AddCommand(transcriptsListCmd, transcriptsShowCmd, transcriptsDeleteCmd)
	rootCmd.AddCommand(transcriptsCmd, renderCmd, personasCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		noticeColor.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(config.CLIProfile)
	if err != nil {
		return err
	}
	app, err = bootstrap.Build(cmd.Context(), cfg, logger)
	return err
}

func stdoutPrinter(w io.Writer) (*printer, error) {
	return newPrinter(w, wordWrap)
}

func runChat(cmd *cobra.Command, _ []string) error {
	out, err := stdoutPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	r, err := newREPL(app.Tutor, out, domain.PersonaMode(mode), domain.AudienceLevel(audience))
	if err != nil {
		return err
	}
	return r.run(cmd.Context(), cmd.InOrStdin())
}

func listTranscripts(cmd *cobra.Command, _ []string) error {
	ids, err := app.Tutor.ListTranscripts(cmd.Context())
	if err != nil {
		return errors.New(describe(err))
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func showTranscript(cmd *cobra.Command, args []string) error {
	sess, err := app.Tutor.LoadTranscript(cmd.Context(), args[0])
	if err != nil {
		return errors.New(describe(err))
	}
	out, err := stdoutPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	r := &repl{tutor: app.Tutor, out: out}
	out.history(sess, r.renderer(sess))
	return nil
}

func deleteTranscript(cmd *cobra.Command, args []string) error {
	if err := app.Tutor.DeleteTranscript(cmd.Context(), args[0]); err != nil {
		return errors.New(describe(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q.\n", args[0])
	return nil
}

func renderFile(cmd *cobra.Command, args []string) error {
	var (
		content []byte
		err     error
	)
	if args[0] == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
	} else {
		content, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	sess := domain.Session{Mode: domain.PersonaMode(mode), Audience: domain.AudienceLevel(audience)}
	instructions, err := app.Tutor.Render(sess, string(content))
	if err != nil {
		return errors.New(describe(err))
	}
	out, err := stdoutPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	out.reply(instructions)
	return nil
}

func listPersonas(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	defMode, defAudience := app.Personas.Defaults()
	fmt.Fprintln(w, "Modes:")
	for _, o := range app.Personas.Modes() {
		fmt.Fprintf(w, "  %-14s %s%s\n", o.ID, o.Name, defaultMark(o.ID == string(defMode)))
	}
	fmt.Fprintln(w, "Audiences:")
	for _, o := range app.Personas.Audiences() {
		fmt.Fprintf(w, "  %-14s %s%s\n", o.ID, o.Name, defaultMark(o.ID == string(defAudience)))
	}
	return nil
}

func defaultMark(isDefault bool) string {
	if isDefault {
		return " (default)"
	}
	return ""
}
