package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

func newAskCmd(c *cli) *cobra.Command {
	var hmo, tier, lang string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single benefit question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Hebrew names are accepted; unknown values fall through to validation
			req := domain.AnswerRequest{
				Question: strings.Join(args, " "),
				HMO:      domain.HMO(hmo),
				Tier:     domain.Tier(tier),
				Language: domain.Language(lang),
			}
			if h, ok := domain.ParseHMO(hmo); ok {
				req.HMO = h
			}
			if t, ok := domain.ParseTier(tier); ok {
				req.Tier = t
			}
			if l, ok := domain.ParseLanguage(lang); ok {
				req.Language = l
			}
			answer, err := a.answers.Answer(cmd.Context(), req)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), failure(domain.ErrorCategory(err)+":"), err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, answer.Text)
			if len(answer.Sources) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, label("sources"))
				for _, s := range answer.Sources {
					fmt.Fprintf(out, "  %s/%s %s %s (%.3f)\n", s.Type, s.Category, s.HMO, s.Tier, s.Score)
				}
			}
			if verbose {
				d := answer.Diagnostics
				fmt.Fprintf(out, "\n%s tier=%s chunks=%d tokens=%d took=%dms\n",
					label("diagnostics"), d.RetrievalTier, d.ChunksRetrieved, d.TokensUsed, d.TookMs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hmo, "hmo", "", "health fund: maccabi, meuhedet or clalit")
	cmd.Flags().StringVar(&tier, "tier", "", "membership tier: gold, silver or bronze")
	cmd.Flags().StringVar(&lang, "lang", "he", "answer language: he or en")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print retrieval diagnostics")
	_ = cmd.MarkFlagRequired("hmo")
	_ = cmd.MarkFlagRequired("tier")
	return cmd
}
