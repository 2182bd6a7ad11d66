package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemion/ocrdesk/internal/auth"
)

// readSecret returns flag if set, otherwise the next line of stdin.
func readSecret(cmd *cobra.Command, flag, prompt string) (string, error) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v, nil
	}
	fmt.Fprint(errOut, prompt+": ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("--%s is required", flag)
	}
	return line, nil
}

func displayName(u *auth.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// --- login / register / logout ---

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret(cmd, "password", "Password")
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			if err := a.auth.SignIn(cmd.Context(), args[0], password); err != nil {
				return err
			}
			printSuccess("%s 님으로 로그인했습니다", displayName(a.auth.User()))
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		password, err := readSecret(cmd, "password", "Password")
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			if err := a.auth.SignUp(cmd.Context(), args[0], password, name); err != nil {
				return err
			}
			printSuccess("가입을 환영합니다, %s 님", displayName(a.auth.User()))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear local session data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.auth.SignOut(); err != nil {
				return err
			}
			printSuccess("로그아웃했습니다")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(a *app) error {
			u := a.auth.User()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s>\n", displayName(u), u.Email)
			if u.Username != "" {
				fmt.Fprintf(out, "username: %s\n", u.Username)
			}
			if u.Role != "" {
				fmt.Fprintf(out, "role:     %s\n", u.Role)
			}
			if exp := a.auth.ExpiresAt(); exp != nil {
				fmt.Fprintf(out, "expires:  %s\n", exp.In(a.loc).Format("2006-01-02 15:04"))
			}
			return nil
		})
	},
}

func init() {
	loginCmd.Flags().String("password", "", "password (read from stdin when omitted)")
	registerCmd.Flags().String("password", "", "password (read from stdin when omitted)")
	registerCmd.Flags().String("name", "", "display name")
}

// --- password ---

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Reset or change the account password",
}

var passwordResetRequestCmd = &cobra.Command{
	Use:   "reset-request <email>",
	Short: "Email a password reset token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			msg, err := a.auth.RequestPasswordReset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSuccess("%s", msg)
			return nil
		})
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set a new password with a reset token",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			return fmt.Errorf("--token is required")
		}
		password, err := readSecret(cmd, "password", "New password")
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			msg, err := a.auth.ResetPassword(cmd.Context(), token, password)
			if err != nil {
				return err
			}
			printSuccess("%s", msg)
			return nil
		})
	},
}

var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the password of the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, _ := cmd.Flags().GetString("current")
		next, _ := cmd.Flags().GetString("new")
		if current == "" || next == "" {
			return fmt.Errorf("--current and --new are required")
		}
		return withSession(cmd, func(a *app) error {
			msg, err := a.auth.ChangePassword(cmd.Context(), current, next)
			if err != nil {
				return err
			}
			printSuccess("%s", msg)
			return nil
		})
	},
}

func init() {
	passwordResetCmd.Flags().String("token", "", "reset token from the email")
	passwordResetCmd.Flags().String("password", "", "new password (read from stdin when omitted)")
	passwordChangeCmd.Flags().String("current", "", "current password")
	passwordChangeCmd.Flags().String("new", "", "new password")
	passwordCmd.AddCommand(passwordResetRequestCmd, passwordResetCmd, passwordChangeCmd)
}

// --- account ---

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage the account",
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the account and everything stored for it",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("계정과 모든 추출 기록이 삭제됩니다. 계속하려면 --confirm을 지정하세요.")
			return nil
		}
		return withSession(cmd, func(a *app) error {
			if err := a.auth.DeleteAccount(cmd.Context()); err != nil {
				return err
			}
			printSuccess("계정이 삭제되었습니다")
			return nil
		})
	},
}

func init() {
	accountDeleteCmd.Flags().Bool("confirm", false, "confirm account deletion")
	accountCmd.AddCommand(accountDeleteCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or edit the account profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the profile stored on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(a *app) error {
			p, err := a.auth.Profile(cmd.Context())
			if err != nil {
				return err
			}
			return printProfile(cmd, a, p)
		})
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update name or username",
	RunE: func(cmd *cobra.Command, args []string) error {
		var name, username *string
		if cmd.Flags().Changed("name") {
			v, _ := cmd.Flags().GetString("name")
			name = &v
		}
		if cmd.Flags().Changed("username") {
			v, _ := cmd.Flags().GetString("username")
			username = &v
		}
		if name == nil && username == nil {
			return fmt.Errorf("one of --name or --username is required")
		}
		return withSession(cmd, func(a *app) error {
			p, err := a.auth.UpdateProfile(cmd.Context(), name, username)
			if err != nil {
				return err
			}
			printSuccess("프로필이 업데이트되었습니다")
			return printProfile(cmd, a, p)
		})
	},
}

func printProfile(cmd *cobra.Command, a *app, p auth.Profile) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", colorize(colorBold, "name:    "), p.Name)
	fmt.Fprintf(out, "%s %s\n", colorize(colorBold, "email:   "), p.Email)
	fmt.Fprintf(out, "%s %s\n", colorize(colorBold, "username:"), p.Username)
	if p.CreatedAt != "" {
		created := p.CreatedAt
		if t := parseTime(created, a); t != "" {
			created = t
		}
		fmt.Fprintf(out, "%s %s\n", colorize(colorBold, "joined:  "), created)
	}
	return nil
}

func init() {
	profileSetCmd.Flags().String("name", "", "display name")
	profileSetCmd.Flags().String("username", "", "username")
	profileCmd.AddCommand(profileShowCmd, profileSetCmd)
}
