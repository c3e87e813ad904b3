package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"toolbox/internal/app"
	"toolbox/internal/config"
	"toolbox/internal/storage"
	logx "toolbox/pkg/logx"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect or clear stored tool data",
}

var storeLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored bytes per chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		usage, err := app.Usage(cmd.Context(), st)
		if err != nil {
			return err
		}
		if len(usage) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No stored data.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PREFIX\tBYTES\tQUOTA")
		for _, u := range usage {
			quota := "unlimited"
			if q := st.Quota(); q > 0 {
				quota = strconv.FormatInt(u.Bytes*100/q, 10) + "%"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", u.Prefix, u.Bytes, quota)
		}
		return w.Flush()
	},
}

var storeClearCmd = &cobra.Command{
	Use:   "clear <chat-id>",
	Short: "Delete everything stored for one chat",
	Long: `Delete every key stored for one chat.

With the sqlite driver this is safe while the bot runs. The file driver keeps
its table in the bot's memory and writes it back on the next change, so stop
the bot first and pass --force.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("chat id %q: %w", args[0], err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.CheckOfflineClear(cfg, clearForce); err != nil {
			return err
		}
		st, err := app.OpenStore(cfg, logx.Nop())
		if err != nil {
			return err
		}
		defer st.Close()

		prefix, n, err := app.ClearChat(cmd.Context(), st, chatID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d keys under %s\n", n, prefix)
		return nil
	},
}

var clearForce bool

func init() {
	storeClearCmd.Flags().BoolVar(&clearForce, "force", false, "clear a file store; the bot must be stopped")
	storeCmd.AddCommand(storeLsCmd, storeClearCmd)
}

func loadConfig() (*config.Config, error) {
	return config.NewConfigManager(cfgPath).Load()
}

func openStore() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenStore(cfg, logx.Nop())
}
