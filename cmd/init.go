package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/Manali-J/monji/monji"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
)

// passwordReader reads a password without echoing it. Swapped out in
// tests, where there's no terminal to read from.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema and admin account",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("MONJI_DATABASE_TYPE not set (sqlite or postgres)")
		}
		if cfg.Database == "" {
			log.Fatal("MONJI_DATABASE not set (connection string or sqlite path)")
		}

		db, err := monji.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		var runtimeConfig monji.RuntimeConfig
		rv := db.Last(&runtimeConfig)
		if rv.Error != nil {
			if !errors.Is(rv.Error, gorm.ErrRecordNotFound) {
				log.Fatalf("Error retrieving runtime config: %v", rv.Error)
			}
			runtimeConfig = monji.DefaultRuntimeConfig()
			if err = db.Create(&runtimeConfig).Error; err != nil {
				log.Fatalf("Error creating runtime config: %v", err)
			}
		}

		out := cmd.OutOrStdout()
		if runtimeConfig.AdminUsername != "" && runtimeConfig.AdminPassword != "" {
			fmt.Fprintln(out, "Admin account already exists, leaving it alone.")
			fmt.Fprintln(out, "All set! Start the bot with 'monji run'.")
			return
		}

		fmt.Fprintln(out, "No admin account yet, let's create one.")

		fmt.Fprint(out, "Admin username: ")
		reader := bufio.NewReader(os.Stdin)
		username, _ := reader.ReadString('\n')
		username = strings.TrimSpace(username)

		password := promptPassword(out)
		hashedPassword, err := monji.HashPassword(password)
		if err != nil {
			log.Fatalf("Error hashing password: %v", err)
		}

		if err := db.Model(&runtimeConfig).Updates(
			map[string]any{
				"admin_username": username,
				"admin_password": hashedPassword,
			},
		).Error; err != nil {
			log.Fatalf("Error saving admin credentials: %v", err)
		}

		fmt.Fprintln(out, "Admin account created.")
		fmt.Fprintln(out, "All set! Start the bot with 'monji run'.")
	},
}

// promptPassword prompts for a password and confirmation until both
// entries match, returning the accepted password.
func promptPassword(out io.Writer) string {
	readPassword := customPasswordReader
	if readPassword == nil {
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}
	for {
		fmt.Fprint(out, "Admin password: ")
		password, _ := readPassword()
		fmt.Fprintln(out)

		fmt.Fprint(out, "Confirm password: ")
		confirm, _ := readPassword()
		fmt.Fprintln(out)

		if len(password) > 0 && string(password) == string(confirm) {
			return string(password)
		}
		fmt.Fprintln(out, "Passwords didn't match, try again.")
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
}
