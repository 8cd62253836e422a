package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/celer-network/go-bridge-relayer/db"
	"github.com/celer-network/go-bridge-relayer/db/badgerdb"
	"github.com/celer-network/go-bridge-relayer/db/memorydb"
	"github.com/celer-network/go-bridge-relayer/receipts"
	"github.com/celer-network/go-bridge-relayer/relayer"
	"github.com/celer-network/go-bridge-relayer/writer"
)

const (
	flagState = "state"
	flagSlot  = "slot"
	flagFrom  = "from"
	flagTo    = "to"
	flagPrune = "prune"
)

func openDB() (db.DB, error) {
	if cfg.DB.InMemory {
		return memorydb.NewDB(), nil
	}
	return badgerdb.NewDB(cfg.DB.Dir)
}

func newWriter(ctx context.Context, d db.DB) (*writer.Writer, error) {
	network, err := cfg.SS58Network()
	if err != nil {
		return nil, err
	}
	keypair, err := signature.KeyringPairFromSecret(cfg.Sink.KeyringURI, network)
	if err != nil {
		return nil, errors.Wrap(err, "load signing key")
	}
	wcfg, err := cfg.WriterConfig()
	if err != nil {
		return nil, err
	}
	client, err := writer.NewRPCClient(cfg.Sink.Endpoint)
	if err != nil {
		return nil, err
	}
	wr, err := writer.NewWriter(client, keypair, wcfg, writer.NewJournal(d))
	if err != nil {
		return nil, err
	}
	if err := wr.Initialize(ctx); err != nil {
		return nil, err
	}
	return wr, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "relay gateway messages from finalized execution blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()
			wr, err := newWriter(ctx, d)
			if err != nil {
				return err
			}
			eth, err := ethclient.DialContext(ctx, cfg.Source.Endpoint)
			if err != nil {
				return errors.Wrapf(err, "dial %s", cfg.Source.Endpoint)
			}
			defer eth.Close()

			channelID, err := cfg.ChannelID()
			if err != nil {
				return err
			}
			relay := relayer.NewMessageRelay(relayer.MessageConfig{
				Gateway:      cfg.GatewayAddress(),
				ChannelID:    channelID,
				PollInterval: cfg.Source.PollInterval,
				FromBlock:    cfg.Source.FromBlock,
				Batch:        cfg.Source.Batch,
			}, eth, receipts.NewFetcher(eth, cfg.Receipts.WindowSize), wr, d)

			err = relay.Start(ctx)
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("Relay stopped")
				return nil
			}
			return err
		},
	}
}

func checkpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "submit the finalized checkpoint of an SSZ encoded beacon state",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString(flagState)
			if err != nil {
				return err
			}
			slot, err := cmd.Flags().GetUint64(flagSlot)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			schedule, err := cfg.ForkSchedule()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()
			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()
			wr, err := newWriter(ctx, d)
			if err != nil {
				return err
			}
			update, err := relayer.NewBeaconRelay(schedule, wr).RelayCheckpoint(ctx, raw, slot)
			if err != nil {
				return err
			}
			if update == nil {
				fmt.Println("destination already holds a checkpoint at or after slot", slot)
				return nil
			}
			fmt.Printf("finalized block root 0x%x at slot %d\n", update.BlockRoot, update.Header.Slot)
			return nil
		},
	}
	cmd.Flags().String(flagState, "", "path of the SSZ encoded beacon state")
	cmd.Flags().Uint64(flagSlot, 0, "slot of the state")
	cmd.MarkFlagRequired(flagState)
	cmd.MarkFlagRequired(flagSlot)
	return cmd
}

func journalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "print or prune the submission journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := cmd.Flags().GetUint64(flagFrom)
			if err != nil {
				return err
			}
			to, err := cmd.Flags().GetUint64(flagTo)
			if err != nil {
				return err
			}
			prune, err := cmd.Flags().GetUint64(flagPrune)
			if err != nil {
				return err
			}

			d, err := openDB()
			if err != nil {
				return err
			}
			defer d.Close()
			journal := writer.NewJournal(d)
			if prune > 0 {
				n, err := journal.Prune(prune)
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d entries below nonce %d\n", n, prune)
				return nil
			}
			entries, err := journal.Entries(from, to)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%d\t%s\t%s\t%s\t%s\n", e.Nonce, e.Status, e.Extrinsic.Hex(), e.UpdatedAt.Format(time.RFC3339), e.Call)
			}
			return nil
		},
	}
	cmd.Flags().Uint64(flagFrom, 0, "first nonce")
	cmd.Flags().Uint64(flagTo, ^uint64(0), "end nonce (exclusive)")
	cmd.Flags().Uint64(flagPrune, 0, "delete entries below this nonce instead of printing")
	return cmd
}
