package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkrupp/booksy/internal/domain"
)

var errNothingToUpdate = errors.New("nothing to update")

func newRegisterCmd(a *app) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := a.prompt.Text("Email", email)
			if err != nil {
				return err
			}

			displayName, err := a.prompt.Text("Display name", name)
			if err != nil {
				return err
			}

			password, err := a.prompt.Password("Password")
			if err != nil {
				return err
			}

			resp, err := a.client.Register(cmd.Context(), addr, password, displayName)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}

			return printSession(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&name, "name", "", "display name")

	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to an existing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := a.prompt.Text("Email", email)
			if err != nil {
				return err
			}

			password, err := a.prompt.Password("Password")
			if err != nil {
				return err
			}

			resp, err := a.client.Login(cmd.Context(), addr, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			return printSession(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")

	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout: %w", err)
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "signed out")

			return err //nolint:wrapcheck
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active session and profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := a.client.Current(cmd.Context())
			if err != nil {
				return fmt.Errorf("current session: %w", err)
			}

			return printSession(cmd.OutOrStdout(), resp)
		},
	}
}

func newProfileCmd(a *app) *cobra.Command {
	var (
		bio           string
		genres        []string
		read, reading int
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Edit the profile of the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var upd domain.ProfileUpdate

			flags := cmd.Flags()

			if flags.Changed("bio") {
				upd.Bio = &bio
			}

			if flags.Changed("genres") {
				upd.FavoriteGenres = append([]string{}, genres...)
			}

			if flags.Changed("read") {
				upd.BooksRead = &read
			}

			if flags.Changed("reading") {
				upd.BooksReading = &reading
			}

			if upd.Bio == nil && upd.FavoriteGenres == nil && upd.BooksRead == nil && upd.BooksReading == nil {
				return errNothingToUpdate
			}

			profile, err := a.client.UpdateProfile(cmd.Context(), upd)
			if err != nil {
				return fmt.Errorf("update profile: %w", err)
			}

			return printProfile(cmd.OutOrStdout(), profile)
		},
	}

	cmd.Flags().StringVar(&bio, "bio", "", "short biography")
	cmd.Flags().StringSliceVar(&genres, "genres", nil, "favorite genres, comma separated")
	cmd.Flags().IntVar(&read, "read", 0, "number of books read")
	cmd.Flags().IntVar(&reading, "reading", 0, "number of books currently reading")

	return cmd
}

func printSession(w io.Writer, resp domain.SessionResponse) error {
	if resp.Session == nil {
		_, err := fmt.Fprintln(w, "not signed in")

		return err //nolint:wrapcheck
	}

	if _, err := fmt.Fprintf(w, "%s <%s>\nuid: %s\n",
		resp.Session.DisplayName, resp.Session.Email, resp.Session.UID); err != nil {
		return err //nolint:wrapcheck
	}

	if resp.Profile == nil {
		_, err := fmt.Fprintln(w, "profile: unavailable")

		return err //nolint:wrapcheck
	}

	return printProfile(w, *resp.Profile)
}

func printProfile(w io.Writer, p domain.Profile) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "joined: %s\n", p.Joined.Format("2006-01-02"))
	fmt.Fprintf(&sb, "books read: %d\n", p.BooksRead)
	fmt.Fprintf(&sb, "books reading: %d\n", p.BooksReading)

	if len(p.FavoriteGenres) > 0 {
		fmt.Fprintf(&sb, "favorite genres: %s\n", strings.Join(p.FavoriteGenres, ", "))
	}

	if p.Bio != "" {
		fmt.Fprintf(&sb, "bio: %s\n", p.Bio)
	}

	if p.ProfilePicture != "" {
		fmt.Fprintf(&sb, "picture: %s\n", p.ProfilePicture)
	}

	_, err := io.WriteString(w, sb.String())

	return err //nolint:wrapcheck
}
