package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/TIANLI0/CardKit/index"
	"github.com/TIANLI0/CardKit/model"
	"github.com/TIANLI0/CardKit/pipeline"
	"github.com/TIANLI0/CardKit/utils"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string

	serveCmd := newServeCommand(&configPath)
	rootCmd := &cobra.Command{
		Use:           "cardkit",
		Short:         "Trading card recognition service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newScanCommand(&configPath))
	rootCmd.AddCommand(newIndexCommand(&configPath))
	rootCmd.AddCommand(newConfigCommand(&configPath))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// writeJSON 以缩进JSON写到命令的标准输出
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newScanCommand(configPath *string) *cobra.Command {
	var mode string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan <image>",
		Short: "Identify the cards in a local image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			// 命令行输出给人看，日志只保留警告以上
			cfg.Server.Mode = "release"
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			img, err := imaging.Open(args[0], imaging.AutoOrientation(true))
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			result, err := a.orchestrator.ScanImage(cmd.Context(), img, mode)
			if err != nil && (result == nil || !errors.Is(err, pipeline.ErrIndexUnavailable)) {
				return err
			}
			if asJSON {
				if jerr := writeJSON(cmd, result); jerr != nil {
					return jerr
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d card(s) found, %d matched (mode %s)\n",
				args[0], result.CardsFound, result.CardsMatched, result.Mode)
			if len(result.Cards) > 0 {
				fmt.Fprintln(out, renderCards(cmd, result.Cards))
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "default", "Scan mode (default or pro)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func renderCards(cmd *cobra.Command, cards []model.CardResult) string {
	rows := make([][]string, 0, len(cards))
	for _, c := range cards {
		status := "matched"
		if !c.Matched {
			status = c.Reason
		}
		price := ""
		if c.Prices != nil && c.Prices.USD != nil {
			price = "$" + *c.Prices.USD
		}
		rows = append(rows, []string{
			strconv.Itoa(c.CardNumber),
			c.Name,
			c.SetCode,
			c.CollectorNumber,
			strconv.Itoa(c.Confidence) + "%",
			c.MatchMethod,
			price,
			status,
		})
	}
	return renderTable(cmd.OutOrStdout(),
		[]string{"#", "Name", "Set", "Number", "Confidence", "Method", "USD", "Status"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft})
}

func newIndexCommand(configPath *string) *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Card database utilities",
	}

	var sample int
	var asJSON bool
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Load the card database and print its statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := utils.InitLogger("release"); err != nil {
				return err
			}
			defer utils.Sync()

			loader, err := index.NewLoader(&cfg.Index)
			if err != nil {
				return err
			}
			idx, err := index.NewStore().Load(cmd.Context(), loader)
			if err != nil {
				return err
			}
			if sample <= 0 {
				sample = cfg.Index.StatsSample
			}
			st := idx.Stats(sample)
			if asJSON {
				return writeJSON(cmd, st)
			}

			rows := [][]string{
				{"Cards", humanize.Comma(int64(st.TotalCards))},
				{"Sets", humanize.Comma(int64(st.Sets))},
				{"Hash bits", strconv.Itoa(st.HashBits)},
				{"Source", st.Source},
				{"Checksum", st.Checksum},
				{"Loaded", humanize.Time(st.LoadedAt)},
				{"Sample", humanize.Comma(int64(st.SampleSize))},
				{"Min distance", strconv.Itoa(st.MinDistance)},
				{"Max distance", strconv.Itoa(st.MaxDistance)},
				{"Avg distance", strconv.FormatFloat(st.AvgDistance, 'f', 1, 64)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(),
				[]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	statsCmd.Flags().IntVar(&sample, "sample", 0, "Records compared pairwise for distance statistics")
	statsCmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")

	indexCmd.AddCommand(statsCmd)
	return indexCmd
}

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			data, err := toml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
			return nil
		},
	})
	return configCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cardkit %s (build %s, %s, commit %s on %s)\n",
				Version, BuildID, BuildTime, GitCommit, GitBranch)
		},
	}
}
