package cmd

import (
	"fmt"

	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/spf13/cobra"
)

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Show or transfer the oracle owner",
}

var ownerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		owner, err := c.Owner(cmd.Context())
		if err != nil {
			return err
		}
		if done, err := printStructured(models.OwnerInfo{Owner: owner}); done {
			return err
		}
		fmt.Println(owner)
		return nil
	},
}

var ownerTransferCmd = &cobra.Command{
	Use:   "transfer <new-owner>",
	Short: "Hand the owner role to another identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireIdentity(); err != nil {
			return err
		}
		newOwner, err := models.ParseIdentity(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		owner, err := c.TransferOwnership(cmd.Context(), newOwner)
		if err != nil {
			return err
		}
		if done, err := printStructured(models.OwnerInfo{Owner: owner}); done {
			return err
		}
		fmt.Printf("Ownership transferred to %s\n", owner)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ownerCmd)
	ownerCmd.AddCommand(ownerShowCmd, ownerTransferCmd)
}
