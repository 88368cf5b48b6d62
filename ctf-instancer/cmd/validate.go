package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kavos113/quickctf/ctf-instancer/config"
	"github.com/kavos113/quickctf/ctf-instancer/registry"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and list its challenges",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env := loadEnv()
		file, err := config.LoadFile(env.ConfigPath)
		if err != nil {
			return err
		}
		reg, err := registry.New(file.Definitions())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d challenges\n", env.ConfigPath, reg.Len())
		for _, name := range reg.Names() {
			def, _ := reg.Lookup(name)
			ttl := "unbounded"
			if def.TTL > 0 {
				ttl = def.TTL.String()
			}
			fmt.Fprintf(out, "  %s\timage=%s port=%d ttl=%s\n", name, def.Environment.Image, def.Environment.InternalPort, ttl)
		}
		return nil
	},
}
