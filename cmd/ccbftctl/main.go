// Command ccbftctl is a thin CLI client for a running ccbftd node's REST
// façade.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var apiAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ccbftctl",
		Short: "ccBFT node CLI",
	}
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api-addr", "http://localhost:8545", "node REST API base URL")

	rootCmd.AddCommand(
		heightCmd(),
		blockCmd(),
		txCmd(),
		mempoolCmd(),
		consensusCmd(),
		metricsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func heightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "height",
		Short: "Get the current chain height",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint("/height")
		},
	}
}

func blockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Block operations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get-height [height]",
			Short: "Get a block by height",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getAndPrint("/blocks/height/" + args[0])
			},
		},
		&cobra.Command{
			Use:   "get-hash [hash]",
			Short: "Get a block by hex-encoded hash",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getAndPrint("/blocks/hash/" + args[0])
			},
		},
	)
	return cmd
}

func txCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Transaction operations",
	}

	var from, to, signature, data string
	var amount, fee, nonce uint64

	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a pre-signed transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"from":      from,
				"to":        to,
				"amount":    amount,
				"fee":       fee,
				"nonce":     nonce,
				"data":      data,
				"signature": signature,
			}
			payload, err := json.Marshal(body)
			if err != nil {
				return err
			}
			return postAndPrint("/transactions", payload)
		},
	}
	submit.Flags().StringVar(&from, "from", "", "hex-encoded sender public key")
	submit.Flags().StringVar(&to, "to", "", "hex-encoded recipient public key")
	submit.Flags().StringVar(&signature, "signature", "", "hex-encoded signature")
	submit.Flags().StringVar(&data, "data", "", "hex-encoded transaction data")
	submit.Flags().Uint64Var(&amount, "amount", 0, "amount")
	submit.Flags().Uint64Var(&fee, "fee", 0, "fee")
	submit.Flags().Uint64Var(&nonce, "nonce", 0, "sender nonce")

	cmd.AddCommand(submit)
	return cmd
}

func mempoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mempool-stats",
		Short: "Get mempool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint("/mempool/stats")
		},
	}
}

func consensusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consensus-state",
		Short: "Get the current consensus state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint("/consensus/state")
		},
	}
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Get consensus engine metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint("/metrics")
		},
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getAndPrint(path string) error {
	resp, err := httpClient.Get(strings.TrimRight(apiAddr, "/") + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func postAndPrint(path string, body []byte) error {
	resp, err := httpClient.Post(strings.TrimRight(apiAddr, "/")+path, "application/json", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request returned status %d", resp.StatusCode)
	}
	return nil
}
