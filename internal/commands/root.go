// Package commands provides CLI commands for kiki.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version info (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// rootOptions holds the flags shared by the commands.
type rootOptions struct {
	// persistent
	configPath string
	relayURL   string
	model      string

	// one-shot query
	output string
	file   string
	image  string
	raw    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	deps = deps.withDefaults()
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "kiki [prompt]",
		Short: "Chat client and relay for OpenAI-compatible backends",
		Long: `kiki is a terminal chat client with a built-in relay server. The relay
holds the upstream API key and exposes a small HTTP API; the client talks
to the relay with retries and normalizes whatever comes back.

Examples:
  kiki serve                            Run the relay on :3000
  kiki chat                             Start interactive chat
  kiki "What is Go?"                    Send a single prompt
  kiki "/imagine a red fox"             Generate an image
  kiki -i photo.jpg "Describe this"     Ask about an image
  cat prompt.md | kiki                  Read prompt from stdin
  kiki "Hello" -o response.md           Save reply to file`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Fprintf(deps.Stdout, "kiki %s (built %s)\n", Version, BuildTime)
				return nil
			}

			prompt, ok, err := readPrompt(opts, args, deps.Stdin)
			if err != nil {
				return err
			}
			if !ok && opts.image == "" {
				return cmd.Help()
			}
			return runQuery(cmd.Context(), deps, opts, prompt)
		},
	}
	rootCmd.SetOut(deps.Stdout)
	rootCmd.SetErr(deps.Stderr)

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default ~/.kiki/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.relayURL, "relay", "", "Relay base URL (default http://localhost:3000)")
	rootCmd.PersistentFlags().StringVarP(&opts.model, "model", "m", "", "Pin a model id instead of automatic routing")
	rootCmd.Flags().StringVarP(&opts.output, "output", "o", "", "Save reply to file")
	rootCmd.Flags().StringVarP(&opts.file, "file", "f", "", "Read prompt from file")
	rootCmd.Flags().StringVarP(&opts.image, "image", "i", "", "Path to image file to include")
	rootCmd.Flags().BoolVar(&opts.raw, "raw", false, "Print only the reply text")
	rootCmd.Flags().BoolP("version", "v", false, "Show version and exit")

	rootCmd.AddCommand(
		newChatCmd(deps, opts),
		newServeCmd(deps, opts),
		newModelsCmd(deps, opts),
		newUploadCmd(deps, opts),
		newConfigCmd(deps, opts),
	)
	return rootCmd
}

// readPrompt picks the prompt from --file, piped stdin or the argument, in
// that order. ok is false when none was given.
func readPrompt(opts *rootOptions, args []string, stdin io.Reader) (string, bool, error) {
	if opts.file != "" {
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return "", false, fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), true, nil
	}

	if hasPipedInput(stdin) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", false, fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), true, nil
	}

	if len(args) > 0 {
		return args[0], true, nil
	}
	return "", false, nil
}

func hasPipedInput(r io.Reader) bool {
	switch in := r.(type) {
	case nil:
		return false
	case *os.File:
		stat, err := in.Stat()
		return err == nil && stat.Mode()&os.ModeCharDevice == 0
	default:
		return true
	}
}

// Execute runs the root command
func Execute() {
	deps := NewDependencies()
	if err := NewRootCmd(deps).Execute(); err != nil {
		fmt.Fprintln(deps.Stderr, "Error:", err)
		os.Exit(1)
	}
}
