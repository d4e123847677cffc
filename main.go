package main

import (
	"github.com/LotusiaStewardship/lotus-shared-wallet/cmd/relayd"
	"github.com/LotusiaStewardship/lotus-shared-wallet/cmd/walletd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "lotus-shared-wallet",
		Short: "Decentralized n-of-n shared wallet over MuSig2",
	}

	root.AddCommand(
		walletd.New(),
		relayd.New(),
	)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}
