package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/internal/observability"
	"github.com/xkilldash9x/fpwarden/internal/persona"
	"github.com/xkilldash9x/fpwarden/internal/profile"
)

func newCreateCmd() *cobra.Command {
	var (
		displayName string
		namespace   string
		root        string
		headless    bool
		seed        int64
		audit       bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a profile with a generated Windows fingerprint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			store := profile.NewStore(logger)

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			p, err := persona.NewGenerator(seed).Generate()
			if err != nil {
				return err
			}
			blob, err := persona.RenderConfigBlob(p)
			if err != nil {
				return err
			}

			res, err := store.CreateProfile(root, profile.CreateOptions{
				DisplayName: displayName,
				Namespace:   namespace,
				Headless:    headless,
				ConfigBlob:  blob,
				Timezone:    p.Timezone,
			})
			if err != nil {
				return err
			}

			logger.Info("Profile created",
				zap.String("profile_id", res.ProfileID),
				zap.String("namespace", namespace),
				zap.Int64("seed", seed))
			fmt.Printf("created %s (namespace %q) at %s\n", res.ProfileID, namespace, res.NamespacePath)

			if audit {
				stack, err := newAuditStack()
				if err != nil {
					return err
				}
				return auditOne(stack, res.NamespacePath, nil, true, false)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "name", "", "display name (defaults to the profile id)")
	cmd.Flags().StringVar(&namespace, "namespace", "default", "namespace to create inside the profile")
	cmd.Flags().StringVar(&root, "root", "profiles", "profiles root directory")
	cmd.Flags().BoolVar(&headless, "headless", false, "mark the profile headless")
	cmd.Flags().Int64Var(&seed, "seed", 0, "persona generator seed (0 uses the clock)")
	cmd.Flags().BoolVar(&audit, "audit", false, "repair and audit the new profile immediately")
	return cmd
}
