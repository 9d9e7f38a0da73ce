package main

import (
	"fmt"
	"os"

	"github.com/hdt3213/redimux/config"
	"github.com/hdt3213/redimux/redis/client"
	"github.com/spf13/cobra"
)

var banner = `
               ___
  _______ ___/ (_)_ _  __ ____ __
 / __/ -_) _  / /  ' \/ // /\ \ /
/_/  \__/\_,_/_/_/_/_/\_,_//_\_\
`

var (
	configFile string
	host       string
	port       int
	auth       string
	useGnet    bool
)

var rootCmd = &cobra.Command{
	Use:   "redimux-cli",
	Short: "redimux-cli is an interactive terminal for the redimux client library",
	Run: func(cmd *cobra.Command, args []string) {
		props := loadProperties(cmd)
		print(banner)
		c, err := client.MakeClientWithConfig(props)
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect failed:", err)
			os.Exit(1)
		}
		if err = c.Connect(); err != nil {
			fmt.Fprintln(os.Stderr, "connect failed:", err)
			os.Exit(1)
		}
		defer c.Close()
		runRepl(c, props)
	},
}

func loadProperties(cmd *cobra.Command) *config.ClientProperties {
	if configFile == "" {
		if env := os.Getenv("CONFIG"); env != "" {
			configFile = env
		} else if info, err := os.Stat(config.DefaultConfPath); err == nil && !info.IsDir() {
			configFile = config.DefaultConfPath
		}
	}
	if configFile != "" {
		config.SetupConfig(configFile)
	}
	props := config.Properties
	// explicit flags win over the config file
	if cmd.Flags().Changed("host") {
		props.Host = host
	}
	if cmd.Flags().Changed("port") {
		props.Port = port
	}
	if cmd.Flags().Changed("auth") {
		props.Auth = auth
	}
	if useGnet {
		props.Transport = "gnet"
	}
	return props
}

func main() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to a .conf or .yaml config file")
	rootCmd.Flags().StringVarP(&host, "host", "H", "localhost", "server host")
	rootCmd.Flags().IntVarP(&port, "port", "p", 6379, "server port")
	rootCmd.Flags().StringVarP(&auth, "auth", "a", "", "password sent with AUTH on connect")
	rootCmd.Flags().BoolVar(&useGnet, "gnet", false, "use the event-loop transport")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
