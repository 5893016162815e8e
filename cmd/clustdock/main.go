// Command clustdock is the thin command-line client for clustdockd: it
// opens one connection, sends one request line, and prints whatever
// reply comes back.
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/clustdock/clustdock/pkg/client"
	"github.com/clustdock/clustdock/pkg/log"
	"github.com/clustdock/clustdock/pkg/wire"
)

var (
	Version = "dev"

	serverAddr string
	timeout    time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "clustdock",
	Short:   "clustdock talks to a clustdockd daemon to list, spawn, stop, and query cluster nodes",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "127.0.0.1:7600", "clustdockd address (host:port)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "connection timeout")
	rootCmd.PersistentFlags().String("log-level", "error", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(getIPCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func dial() (*client.Client, error) {
	return client.Dial(serverAddr, timeout)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes on every managed host",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.List(all)
		if err != nil {
			return err
		}
		printList(reply)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolP("all", "a", false, "include stopped nodes")
}

func printList(reply wire.ListReply) {
	hosts := make([]string, 0, len(reply.Hosts))
	for host := range reply.Hosts {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	fmt.Printf("%-20s %-24s %-8s %-15s %s\n", "HOST", "NAME", "KIND", "IP", "STATUS")
	for _, host := range hosts {
		for _, n := range reply.Hosts[host] {
			fmt.Printf("%-20s %-24s %-8s %-15s %s\n", host, n.Name, n.Kind, n.IP, statusName(n.Status))
		}
	}
}

func statusName(code int) string {
	switch code {
	case 0:
		return "created"
	case 1:
		return "running"
	case 3:
		return "paused"
	case 4:
		return "shutting-down"
	case 5:
		return "stopped"
	case 6:
		return "crashed"
	default:
		return "unknown"
	}
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <profile> <clustername> <count> [host]",
	Short: "Spawn count new nodes of profile in clustername",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[2], err)
		}
		host := ""
		if len(args) == 4 {
			host = args[3]
		}

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Spawn(args[0], args[1], count, host)
		if err != nil {
			return err
		}
		return printNodeSetReply(reply)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <nodeset>",
	Short: "Stop every node in nodeset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Stop(args[0])
		if err != nil {
			return err
		}
		return printNodeSetReply(reply)
	},
}

func printNodeSetReply(reply wire.NodeSetReply) error {
	for _, msg := range reply.Errors {
		fmt.Fprintln(os.Stderr, msg)
	}
	if reply.NodeSet != "" {
		fmt.Println(reply.NodeSet)
	}
	if len(reply.Errors) != 0 {
		return fmt.Errorf("%d node(s) failed", len(reply.Errors))
	}
	return nil
}

var getIPCmd = &cobra.Command{
	Use:   "get-ip <nodeset>",
	Short: "Print the IP of every node in nodeset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.GetIP(args[0])
		if err != nil {
			return err
		}
		for _, msg := range reply.Errors {
			fmt.Fprintln(os.Stderr, msg)
		}
		if len(reply.IPs) == 1 {
			fmt.Println(reply.IPs[0].IP)
		} else {
			for _, entry := range reply.IPs {
				fmt.Printf("%s\t%s\n", entry.IP, entry.Name)
			}
		}
		if len(reply.Errors) != 0 {
			return fmt.Errorf("%d node(s) failed", len(reply.Errors))
		}
		return nil
	},
}
