package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironledger/ironchain/internal/p2p"
)

// banListPath is the on-disk record of banned peer addresses, consulted
// by runStart when a fresh routing table is built and edited directly by
// the ban/unban subcommands — there is no running-node admin channel, so
// a running node only ever sees bans applied at its own startup.
const banListPath = "peer_bans.json"

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "peer", Short: "manage the persisted peer ban list"}
	cmd.AddCommand(&cobra.Command{
		Use:   "ban [addr]",
		Short: "add an address to the ban list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editBanList(func(set map[string]bool) { set[args[0]] = true })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unban [addr]",
		Short: "remove an address from the ban list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editBanList(func(set map[string]bool) { delete(set, args[0]) })
		},
	})
	return cmd
}

func loadBanList() (map[string]bool, error) {
	set := make(map[string]bool)
	b, err := os.ReadFile(banListPath)
	if os.IsNotExist(err) {
		return set, nil
	}
	if err != nil {
		return nil, err
	}
	var addrs []string
	if err := json.Unmarshal(b, &addrs); err != nil {
		return nil, fmt.Errorf("parse ban list: %w", err)
	}
	for _, a := range addrs {
		set[a] = true
	}
	return set, nil
}

func saveBanList(set map[string]bool) error {
	addrs := make([]string, 0, len(set))
	for a := range set {
		addrs = append(addrs, a)
	}
	b, err := json.MarshalIndent(addrs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(banListPath, b, 0o644)
}

func editBanList(mutate func(map[string]bool)) error {
	set, err := loadBanList()
	if err != nil {
		return err
	}
	mutate(set)
	return saveBanList(set)
}

// applyBanList seeds table's routing entries with every address recorded
// in the persisted ban list.
func applyBanList(table *p2p.RoutingTable) error {
	set, err := loadBanList()
	if err != nil {
		return err
	}
	for addr := range set {
		table.Ban(addr)
	}
	return nil
}
