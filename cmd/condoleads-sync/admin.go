package main

import (
	"fmt"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/auth"
	"github.com/condoleads/condoleads-sub001/internal/config"
	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/condoleads/condoleads-sub001/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newEntitiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Manage the entities listings are gathered for",
	}

	var entity listings.Entity
	add := &cobra.Command{
		Use:   "add ENTITY_ID",
		Short: "Register an entity by address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := listings.NewEntityID(args[0])
			if err != nil {
				return err
			}
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewCLILogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, listingStore, err := openStore(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			entity.ID = entityID.String()
			if err := listingStore.CreateEntity(cmd.Context(), &entity); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", entity.ID, entity.DisplayName())
			return nil
		},
	}
	add.Flags().StringVar(&entity.Name, "name", "", "Display name")
	add.Flags().StringVar(&entity.StreetNumber, "street-number", "", "Street number")
	add.Flags().StringVar(&entity.StreetName, "street-name", "", "Street name")
	add.Flags().StringVar(&entity.City, "city", "", "City")
	_ = add.MarkFlagRequired("street-number")

	cmd.AddCommand(add)
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := auth.NewIssuer(auth.IssuerConfig{
				SigningSecret: []byte(viper.GetString("auth.signing_secret")),
				Issuer:        viper.GetString("auth.issuer"),
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(subject, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"admin"}, "Roles granted to the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
