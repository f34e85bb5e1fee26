package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	createUserId   *uint
	createService  *string
	createPlan     *string
	createServerId *uint
	createDays     *int
)

type createdAccountResponse struct {
	Username   string    `json:"Username"`
	Password   string    `json:"Password"`
	ServerName string    `json:"ServerName"`
	ServerUrl  string    `json:"ServerUrl"`
	Plan       string    `json:"Plan"`
	ExpiryDate time.Time `json:"ExpiryDate"`
}

var createAccountCmd = &cobra.Command{
	Use:   "create-account",
	Short: "Provision a new account on the least occupied server (or a specific one via --server-id)",
	Run: func(cmd *cobra.Command, args []string) {
		reqBody, err := json.Marshal(map[string]any{
			"user_id":       *createUserId,
			"service":       *createService,
			"plan":          *createPlan,
			"server_id":     *createServerId,
			"duration_days": *createDays,
		})
		checkFatalError(err)
		respBody, err := apiPost("/api/v1/create-account", "application/json", reqBody)
		checkFatalError(err)
		var created createdAccountResponse
		checkFatalError(json.Unmarshal(respBody, &created))
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("Created account %s on %s\n", green(created.Username), created.ServerName)
		fmt.Printf("Password:  %s\n", created.Password)
		fmt.Printf("Server:    %s\n", created.ServerUrl)
		fmt.Printf("Plan:      %s\n", created.Plan)
		fmt.Printf("Expires:   %s\n", created.ExpiryDate.Format("Jan 2 2006 15:04:05 MST"))
	},
}

var (
	renewService  *string
	renewUsername *string
	renewDays     *int
)

var renewAccountCmd = &cobra.Command{
	Use:   "renew-account",
	Short: "Extend an account's expiry date",
	Run: func(cmd *cobra.Command, args []string) {
		reqBody, err := json.Marshal(map[string]any{
			"service":  *renewService,
			"username": *renewUsername,
			"days":     *renewDays,
		})
		checkFatalError(err)
		respBody, err := apiPost("/api/v1/renew-account", "application/json", reqBody)
		checkFatalError(err)
		var renewed struct {
			Username   string `json:"username"`
			ExpiryDate string `json:"expiry_date"`
		}
		checkFatalError(json.Unmarshal(respBody, &renewed))
		fmt.Printf("Renewed %s until %s\n", renewed.Username, renewed.ExpiryDate)
	},
}

var (
	deleteService  *string
	deleteUsername *string
)

var deleteAccountCmd = &cobra.Command{
	Use:   "delete-account",
	Short: "Delete an account from its remote server and the panel",
	Run: func(cmd *cobra.Command, args []string) {
		params := url.Values{}
		params.Set("service", *deleteService)
		params.Set("username", *deleteUsername)
		_, err := apiPost("/api/v1/delete-account?"+params.Encode(), "application/json", nil)
		checkFatalError(err)
		fmt.Printf("Deleted account %s\n", *deleteUsername)
	},
}

func init() {
	rootCmd.AddCommand(createAccountCmd)
	createUserId = createAccountCmd.Flags().Uint("user-id", 0, "Panel user (reseller) the account belongs to")
	createService = createAccountCmd.Flags().String("service", "EMBY", "Media service type: EMBY or JELLYFIN")
	createPlan = createAccountCmd.Flags().String("plan", "1_screen", "Subscription plan")
	createServerId = createAccountCmd.Flags().Uint("server-id", 0, "Provision on this specific server instead of auto-selecting")
	createDays = createAccountCmd.Flags().Int("days", 30, "Subscription length in days")
	checkFatalError(createAccountCmd.MarkFlagRequired("user-id"))

	rootCmd.AddCommand(renewAccountCmd)
	renewService = renewAccountCmd.Flags().String("service", "EMBY", "Media service type: EMBY or JELLYFIN")
	renewUsername = renewAccountCmd.Flags().String("username", "", "Account username")
	renewDays = renewAccountCmd.Flags().Int("days", 30, "Number of days to extend by")
	checkFatalError(renewAccountCmd.MarkFlagRequired("username"))

	rootCmd.AddCommand(deleteAccountCmd)
	deleteService = deleteAccountCmd.Flags().String("service", "EMBY", "Media service type: EMBY or JELLYFIN")
	deleteUsername = deleteAccountCmd.Flags().String("username", "", "Account username")
	checkFatalError(deleteAccountCmd.MarkFlagRequired("username"))
}
