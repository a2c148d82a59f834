package state

import (
	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/spf13/cobra"
)

var (
	localStore *util.LocalStore
	stateStore *state.Store

	// StateCommands represents the state command group
	StateCommands = &cobra.Command{
		Use:                "state",
		Short:              "Read, write and clear versioned entity state",
		PersistentPreRunE:  openStore,
		PersistentPostRunE: closeStore,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupStoreFlags(StateCommands)

	StateCommands.AddCommand(getCmd)
	StateCommands.AddCommand(putCmd)
	StateCommands.AddCommand(clearCmd)
}

func openStore(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	conf, err := util.GetStoreConfig()
	if err != nil {
		return err
	}
	localStore, err = util.OpenLocalStore(conf)
	if err != nil {
		return err
	}
	stateStore = state.NewStore(localStore, state.Options{ServiceID: conf.ServiceID, Prefix: conf.StatePrefix})
	return nil
}

func closeStore(_ *cobra.Command, _ []string) error {
	if localStore == nil {
		return nil
	}
	return localStore.Close()
}
