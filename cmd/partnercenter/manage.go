package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/PartnerCenter/internal/collect"
	"github.com/TobiSchelling/PartnerCenter/internal/database"
)

// --- users command ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
}

var usersAddCmd = &cobra.Command{
	Use:   "add [email]",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := store.CreateUser(ctx, strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("Added user [%d]: %s\n", id, args[0])
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := store.ListUsers(ctx)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			fmt.Println("No users. Add one with: partnercenter users add EMAIL")
			return nil
		}
		for _, u := range users {
			fmt.Printf("  [%d] %s\n", u.ID, u.Email)
		}
		return nil
	},
}

func init() {
	usersCmd.AddCommand(usersAddCmd)
	usersCmd.AddCommand(usersListCmd)
}

// --- profiles command ---

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage tracked profiles",
}

var (
	profileUser      int64
	profileTitle     string
	profilePlatform  string
	profileHandle    string
	profileFeed      string
	profileRecipient string
	profileEnable    bool
)

var profilesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Track a new profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if profileUser == 0 || profileTitle == "" {
			return errors.New("--user and --title are required")
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := store.CreateProfile(ctx, database.Profile{
			UserID:               profileUser,
			Title:                profileTitle,
			Platform:             profilePlatform,
			Handle:               profileHandle,
			FeedURL:              optional(profileFeed),
			RecipientID:          optional(profileRecipient),
			NotificationsEnabled: profileEnable,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added profile [%d]: %s\n", id, profileTitle)
		return nil
	},
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if profileUser == 0 {
			return errors.New("--user is required")
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		profiles, err := store.ListProfiles(ctx, profileUser)
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Println("No profiles. Add one with: partnercenter profiles add --user ID --title TITLE")
			return nil
		}
		for _, p := range profiles {
			icon := " "
			if p.Alertable() {
				icon = "*"
			}
			fmt.Printf("  [%d] %s %s (%s/%s)\n", p.ID, icon, p.Title, p.Platform, p.Handle)
			if p.RecipientID != nil {
				fmt.Printf("        recipient: %s\n", *p.RecipientID)
			}
			if p.FeedURL != nil {
				fmt.Printf("        feed: %s\n", *p.FeedURL)
			}
		}
		return nil
	},
}

var profilesToggleCmd = &cobra.Command{
	Use:   "toggle [id]",
	Short: "Toggle a profile's notifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Errorf("invalid profile ID: %s", args[0])
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.GetProfile(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return errors.Errorf("profile %d not found", id)
		}
		if err := store.SetNotificationsEnabled(ctx, id, !p.NotificationsEnabled); err != nil {
			return err
		}
		newState := "disabled"
		if !p.NotificationsEnabled {
			newState = "enabled"
		}
		fmt.Printf("Profile [%d] %s: notifications %s\n", id, p.Title, newState)
		return nil
	},
}

var profilesSetRecipientCmd = &cobra.Command{
	Use:   "set-recipient [id] [recipient]",
	Short: "Set where a profile's alerts go; omit recipient to clear it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.Errorf("invalid profile ID: %s", args[0])
		}
		var recipient *string
		if len(args) == 2 {
			recipient = optional(args[1])
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetRecipient(ctx, id, recipient); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return errors.Errorf("profile %d not found", id)
			}
			return err
		}
		if recipient == nil {
			fmt.Printf("Profile [%d]: recipient cleared\n", id)
		} else {
			fmt.Printf("Profile [%d]: recipient %s\n", id, *recipient)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{profilesAddCmd, profilesListCmd} {
		c.Flags().Int64VarP(&profileUser, "user", "u", 0, "Owning user ID")
	}
	profilesAddCmd.Flags().StringVar(&profileTitle, "title", "", "Display title, e.g. \"Jane Doe, Acme\"")
	profilesAddCmd.Flags().StringVar(&profilePlatform, "platform", "linkedin", "Social platform")
	profilesAddCmd.Flags().StringVar(&profileHandle, "handle", "", "Handle on the platform")
	profilesAddCmd.Flags().StringVar(&profileFeed, "feed", "", "RSS/Atom feed of the profile's posts")
	profilesAddCmd.Flags().StringVar(&profileRecipient, "recipient", "", "Chat ID, @channel, or Slack webhook URL")
	profilesAddCmd.Flags().BoolVar(&profileEnable, "enable", false, "Enable notifications right away")

	profilesCmd.AddCommand(profilesAddCmd)
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesToggleCmd)
	profilesCmd.AddCommand(profilesSetRecipientCmd)
}

// --- posts command ---

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Import and inspect collected posts",
}

var postsImportCmd = &cobra.Command{
	Use:   "import [file.json]",
	Short: "Import posts exported by a scraper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := collect.Import(ctx, store, f)
		if err != nil {
			return err
		}
		fmt.Println("Import complete:")
		fmt.Printf("  Records: %d\n", res.TotalFound)
		fmt.Printf("  New posts: %d\n", res.NewPosts)
		fmt.Printf("  Duplicates skipped: %d\n", res.Duplicates)
		if res.Errors > 0 {
			fmt.Printf("  Rejected: %d\n", res.Errors)
		}
		return nil
	},
}

var (
	listUser  int64
	listLimit int
)

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's most recent posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listUser == 0 {
			return errors.New("--user is required")
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		posts, err := store.ListPosts(ctx, listUser, listLimit)
		if err != nil {
			return err
		}
		for _, p := range posts {
			label := "unclassified"
			if c := p.Classification; c != nil {
				label = string(c.Signal)
				if c.Signal.IsLead() {
					label = fmt.Sprintf("%s %d", label, c.IntentScore)
				}
			}
			sent := ""
			if p.Notified {
				sent = " [notified]"
			}
			fmt.Printf("  [%d] %-24s%s %s\n", p.ID, label, sent, truncate(p.Text(), 60))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a user's delivery history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listUser == 0 {
			return errors.New("--user is required")
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		deliveries, err := store.ListDeliveries(ctx, listUser, listLimit)
		if err != nil {
			return err
		}
		if len(deliveries) == 0 {
			fmt.Println("Nothing delivered yet.")
			return nil
		}
		for _, d := range deliveries {
			fmt.Printf("  %s  post %-6d %-8s %-6s %s",
				d.CreatedAt.Local().Format("2006-01-02 15:04"), d.PostID, d.Channel, d.Status, d.RecipientID)
			if d.Error != nil {
				fmt.Printf("  (%s)", *d.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{postsListCmd, historyCmd} {
		c.Flags().Int64VarP(&listUser, "user", "u", 0, "User ID")
		c.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum rows")
	}
	postsCmd.AddCommand(postsImportCmd)
	postsCmd.AddCommand(postsListCmd)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
