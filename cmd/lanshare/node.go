package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lanshare/peer"
	"lanshare/pkg/logger"
)

var (
	nodeSecret        string
	nodeShare         string
	nodeExclude       []string
	nodeDownloads     string
	nodeAddress       string
	nodeDiscoveryPort int
	nodeBroadcast     string
	nodeMDNS          bool
	nodeMetricsAddr   string
	nodeDownload      string
	nodeInteractive   bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a sharing node",
	RunE: func(cmd *cobra.Command, args []string) error {
		mergeNodeFlags(cmd)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := peer.NewNode(cfg, newConsoleObserver(os.Stdout))
		if err != nil {
			return err
		}
		// the node outlives the signal so Stop can still announce departure
		if err := n.Start(context.Background()); err != nil {
			return err
		}

		if nodeDownload != "" {
			go autoDownload(ctx, n, nodeDownload)
		}

		if nodeInteractive {
			fmt.Println("lanshare interactive shell")
			fmt.Println("Type 'help' for commands.")

			prompt.New(
				func(in string) { nodeExecutor(ctx, in, n) },
				nodeCompleter,
				prompt.OptionPrefix("lanshare> "),
				prompt.OptionTitle("lanshare"),
				prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
					return breakline && isExit(in)
				}),
			).Run()
		} else {
			<-ctx.Done()
		}

		fmt.Println("Disconnecting...")
		return n.Stop()
	},
}

func mergeNodeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("secret") {
		cfg.Node.Secret = nodeSecret
	}
	if flags.Changed("share") {
		cfg.Node.SharedFolder = nodeShare
	}
	if flags.Changed("exclude") {
		cfg.Node.ExcludedFolders = nodeExclude
	}
	if flags.Changed("downloads") {
		cfg.Node.DownloadFolder = nodeDownloads
	}
	if flags.Changed("address") {
		cfg.Node.Address = nodeAddress
	}
	if flags.Changed("discovery-port") {
		cfg.Network.DiscoveryPort = nodeDiscoveryPort
	}
	if flags.Changed("broadcast") {
		cfg.Network.BroadcastAddress = nodeBroadcast
	}
	if flags.Changed("mdns") {
		cfg.Node.MDNS = nodeMDNS
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = nodeMetricsAddr
	}
}

// autoDownload waits for hash to be advertised, then downloads it once.
func autoDownload(ctx context.Context, n *peer.Node, hash string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for len(n.PeersWithFile(hash)) == 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	path, err := n.Download(ctx, hash)
	if err != nil {
		logger.Sugar.Errorf("[CLI] download failed: %v", err)
		return
	}
	logger.Sugar.Infof("[CLI] downloaded %s", path)
}

func isExit(in string) bool {
	switch strings.TrimSpace(in) {
	case "exit", "quit", "disconnect":
		return true
	}
	return false
}

func nodeExecutor(ctx context.Context, in string, n *peer.Node) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 || isExit(in) {
		return
	}

	switch blocks[0] {
	case "peers":
		peers := n.Peers()
		if len(peers) == 0 {
			fmt.Println("No connected peers.")
		}
		for _, p := range peers {
			fmt.Println("  " + p.String())
		}
	case "files":
		files := n.Files()
		if len(files) == 0 {
			fmt.Println("No files advertised yet.")
		}
		for _, f := range files {
			fmt.Printf("  %-30s %10s  %d holder(s)  %s\n", f.Name, humanize.Bytes(uint64(f.Size)), len(n.PeersWithFile(f.Hash)), f.Hash)
		}
	case "local":
		files, err := n.LocalFiles()
		if err != nil {
			fmt.Printf("Error scanning shared folder: %v\n", err)
			return
		}
		for _, f := range files {
			fmt.Printf("  %-30s %10s  %s\n", f.Name, humanize.Bytes(uint64(f.Size)), f.Hash)
		}
	case "download":
		if len(blocks) < 2 {
			fmt.Println("Usage: download <hash>")
			return
		}
		hash := blocks[1]
		// 下载在后台进行，不阻塞交互
		go func() {
			path, err := n.Download(ctx, hash)
			if err != nil {
				if errors.Is(err, peer.ErrUnknownFile) {
					fmt.Println("Unknown hash; run 'files' to list what peers advertise.")
					return
				}
				fmt.Printf("Download failed: %v\n", err)
				return
			}
			fmt.Printf("Saved to %s\n", path)
		}()
	case "status":
		printStatus(n)
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  peers                  - List connected peers")
		fmt.Println("  files                  - List files advertised by peers")
		fmt.Println("  local                  - List files in the shared folder")
		fmt.Println("  download <hash>        - Download a file by content hash")
		fmt.Println("  status                 - Show node and download status")
		fmt.Println("  exit                   - Disconnect and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func printStatus(n *peer.Node) {
	id := n.Identity()
	fmt.Printf("Node %s at %s sharing %s\n", n.ID(), id.PeerAddress(), id.SharedRoot)
	fmt.Printf("Peers: %d | Known files: %d\n", len(n.Peers()), len(n.Files()))
	for _, d := range n.Downloads() {
		fmt.Printf("  %s: %d%% (%d/%d chunks, %s, %s/s, eta %s, %d failed attempts)\n",
			d.File.Name, d.Percent, d.Completed, d.TotalChunks,
			humanize.Bytes(uint64(d.BytesDownloaded)), humanize.Bytes(uint64(d.Speed)),
			d.ETA.Round(time.Second), d.Failures)
	}
}

func nodeCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "peers", Description: "List connected peers"},
		{Text: "files", Description: "List advertised files"},
		{Text: "local", Description: "List shared files"},
		{Text: "download", Description: "Download a file"},
		{Text: "status", Description: "Show status"},
		{Text: "exit", Description: "Disconnect and exit"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().StringVarP(&nodeSecret, "secret", "s", "", "Shared secret of the group")
	nodeCmd.Flags().StringVar(&nodeShare, "share", ".", "Folder to share")
	nodeCmd.Flags().StringSliceVar(&nodeExclude, "exclude", nil, "Folders under the share to leave out")
	nodeCmd.Flags().StringVar(&nodeDownloads, "downloads", "", "Download folder (defaults to the shared folder)")
	nodeCmd.Flags().StringVar(&nodeAddress, "address", "", "LAN IPv4 address to advertise (auto-detected)")
	nodeCmd.Flags().IntVar(&nodeDiscoveryPort, "discovery-port", 5000, "UDP discovery port")
	nodeCmd.Flags().StringVar(&nodeBroadcast, "broadcast", "255.255.255.255", "Broadcast address for discovery")
	nodeCmd.Flags().BoolVar(&nodeMDNS, "mdns", false, "Also advertise this node over mDNS")
	nodeCmd.Flags().StringVar(&nodeMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	nodeCmd.Flags().StringVarP(&nodeDownload, "download", "d", "", "Content hash to download once advertised")
	nodeCmd.Flags().BoolVarP(&nodeInteractive, "interactive", "i", false, "Start in interactive mode")
}
