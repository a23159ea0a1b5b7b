package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"nanabot/internal/config"
	"nanabot/internal/transform"

	"github.com/spf13/cobra"
)

func transformCmd() *cobra.Command {
	var (
		rulesPath  string
		dumpRules  bool
		showTokens bool
	)
	cmd := &cobra.Command{
		Use:   "transform [text...]",
		Short: "Run the Nana transform over text (args or stdin, one message per line)",
		Example: `  nanabot transform "hello :wave: world!"
  echo "good morning <:cat:123>" | nanabot transform --tokens`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if dumpRules {
				data, err := transform.MarshalDefault()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			rules, err := transform.LoadRuleFile(transformRulesPath(rulesPath), logger)
			if err != nil {
				return err
			}

			emit := func(text string) {
				if showTokens {
					for _, tok := range rules.Tokenize(text) {
						printToken(out, tok)
					}
					return
				}
				fmt.Fprintln(out, rules.Transform(text))
			}

			if len(args) > 0 {
				emit(strings.Join(args, " "))
				return nil
			}
			return eachLine(cmd.InOrStdin(), emit)
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "YAML rule file (default: relay.rulesFile from config, else built-in rules)")
	cmd.Flags().BoolVar(&dumpRules, "dump-rules", false, "print the built-in rule file and exit")
	cmd.Flags().BoolVar(&showTokens, "tokens", false, "print the token stream instead of the output")
	return cmd
}

// transformRulesPath picks the rule file without requiring a full config:
// the flag, then RULES_FILE, then the config file's relay.rulesFile.
func transformRulesPath(flag string) string {
	if flag != "" {
		return config.ExpandPath(flag)
	}
	if v := os.Getenv(config.EnvRulesFile); v != "" {
		return config.ExpandPath(v)
	}
	if p := resolveConfigPath(); p != "" {
		if cfg, err := config.ReadFile(p); err == nil {
			return config.ExpandPath(cfg.Relay.RulesFile)
		}
	}
	return ""
}

func printToken(w io.Writer, tok transform.Token) {
	rule := tok.Rule
	if rule == "" {
		rule = "fallback"
	}
	switch {
	case tok.Space:
		fmt.Fprintf(w, "%-8s %q\n", "space", tok.Text)
	case tok.Preserve:
		fmt.Fprintf(w, "%-8s %q (%s)\n", "keep", tok.Text, rule)
	default:
		fmt.Fprintf(w, "%-8s %q (%s)\n", "replace", tok.Text, rule)
	}
}

func eachLine(r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		fn(sc.Text())
	}
	return sc.Err()
}
