package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// genesisFile is the on-disk record written by `genesis init` and read
// back by anything bootstrapping a chain store from a fresh genesis
// header, keeping the generated author key alongside it for reference.
type genesisFile struct {
	Author    string `json:"author"`
	AuthorKey string `json:"author_key_hex"`
	Timestamp uint64 `json:"timestamp"`
}

func genesisCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "genesis", Short: "manage genesis material"}
	var out string
	var timestamp uint64
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "generate a genesis signer key and write genesis.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenesisInit(out, timestamp)
		},
	}
	initCmd.Flags().StringVar(&out, "out", "genesis.json", "output path")
	initCmd.Flags().Uint64Var(&timestamp, "timestamp", 0, "genesis header timestamp")
	cmd.AddCommand(initCmd)
	return cmd
}

func runGenesisInit(out string, timestamp uint64) error {
	signer, err := xcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate genesis signer: %w", err)
	}
	author := addressFromPublicKey(signer.Public())

	gf := genesisFile{
		Author:    hex.EncodeToString(author.Bytes()),
		AuthorKey: hex.EncodeToString(signer.Bytes()),
		Timestamp: timestamp,
	}
	b, err := json.MarshalIndent(gf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("wrote genesis material to %s (author %x)\n", out, author)
	return nil
}

// addressFromPublicKey derives a 20-byte address as the low 20 bytes of
// the public key's hash, matching Ethereum-style address derivation
// without pulling in its keccak variant — xcrypto.Hash is already the
// module's canonical digest, so it is reused here rather than adding a
// second hash function solely for address derivation.
func addressFromPublicKey(pub xcrypto.PublicKey) types.Address {
	digest := xcrypto.Hash(pub.Bytes())
	var addr types.Address
	copy(addr[:], digest.Bytes()[len(digest.Bytes())-20:])
	return addr
}
