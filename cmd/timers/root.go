package timers

import (
	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/timers"
	"github.com/spf13/cobra"
)

var (
	localStore *util.LocalStore
	registry   *timers.Registry

	// TimerCommands represents the timers command group
	TimerCommands = &cobra.Command{
		Use:                "timers",
		Short:              "Manage durable timers on the hash ring",
		PersistentPreRunE:  openRegistry,
		PersistentPostRunE: closeRegistry,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupStoreFlags(TimerCommands)

	TimerCommands.AddCommand(upsertCmd)
	TimerCommands.AddCommand(getCmd)
	TimerCommands.AddCommand(ownerCmd)
	TimerCommands.AddCommand(rangeCmd)
	TimerCommands.AddCommand(rmCmd)
	TimerCommands.AddCommand(clearCmd)
	TimerCommands.AddCommand(splitCmd)
}

func openRegistry(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	// split works without a store
	if cmd == splitCmd {
		return nil
	}
	conf, err := util.GetStoreConfig()
	if err != nil {
		return err
	}
	localStore, err = util.OpenLocalStore(conf)
	if err != nil {
		return err
	}
	registry = timers.NewRegistry(localStore, timers.Options{
		ServiceID:       conf.ServiceID,
		ClusterID:       conf.ClusterID,
		Prefix:          conf.TimerPrefix,
		WaitForNonStale: conf.WaitForNonStale,
	})
	return nil
}

func closeRegistry(_ *cobra.Command, _ []string) error {
	if localStore == nil {
		return nil
	}
	return localStore.Close()
}
