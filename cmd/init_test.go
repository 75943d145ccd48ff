package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Manali-J/monji/monji"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	viper.Reset()
	t.Cleanup(viper.Reset)

	os.Setenv("MONJI_DATABASE_TYPE", "sqlite")
	os.Setenv("MONJI_DATABASE", dbPath)
	t.Cleanup(
		func() {
			os.Unsetenv("MONJI_DATABASE_TYPE")
			os.Unsetenv("MONJI_DATABASE")
		},
	)

	// Mock user input
	oldStdin := os.Stdin
	t.Cleanup(
		func() {
			os.Stdin = oldStdin
		},
	)

	passwords := []string{"testpassword", "testpassword"}
	passwordIndex := 0

	mockPasswordReader := func() ([]byte, error) {
		if passwordIndex >= len(passwords) {
			return nil, fmt.Errorf("no more passwords")
		}
		password := passwords[passwordIndex]
		passwordIndex++
		return []byte(password), nil
	}

	t.Cleanup(
		func() {
			customPasswordReader = nil
		},
	)

	customPasswordReader = mockPasswordReader

	input := "testadmin\n"
	r, w, _ := os.Pipe()
	os.Stdin = r
	go func() {
		_, _ = w.Write([]byte(input))
		_ = w.Close()
	}()

	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.OutOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
		},
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	rootCmd.SetArgs([]string{"init"})
	err := rootCmd.Execute()
	require.NoError(t, err)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")

	// Verify the output
	output := out.String()
	t.Logf("output: %s", output)
	assert.Contains(t, output, "No admin account yet, let's create one.")
	assert.Contains(t, output, "Admin username:")
	assert.Contains(t, output, "Admin password:")
	assert.Contains(t, output, "Confirm password:")
	assert.Contains(t, output, "Admin account created.")
	assert.Contains(t, output, "Start the bot with 'monji run'")

	// Verify the database contents
	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)

	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)

	var config monji.RuntimeConfig
	err = db.First(&config).Error
	require.NoError(t, err)

	assert.Equal(t, "testadmin", config.AdminUsername)
	assert.NotEmpty(t, config.AdminPassword)
	assert.NotEqual(t, "testpassword", config.AdminPassword) // Password should be hashed

	mg := db.Migrator()

	assert.True(t, mg.HasTable(&monji.RuntimeConfig{}))
	assert.True(t, mg.HasTable(&monji.Question{}))
	assert.True(t, mg.HasTable(&monji.QuestionUsage{}))
	assert.True(t, mg.HasTable(&monji.ScrambleWord{}))
	assert.True(t, mg.HasTable(&monji.ScrambleUsage{}))
	assert.True(t, mg.HasTable(&monji.Player{}))
	assert.True(t, mg.HasTable(&monji.GameRecord{}))
	assert.True(t, mg.HasTable(&monji.InteractionLog{}))

	valid, err := monji.VerifyPassword(config.AdminPassword, "testpassword")
	assert.NoError(t, err)
	assert.True(t, valid)
}

func TestPromptPasswordRetry(t *testing.T) {
	entries := []string{"first", "second", "matched", "matched"}
	index := 0
	customPasswordReader = func() ([]byte, error) {
		entry := entries[index]
		index++
		return []byte(entry), nil
	}
	t.Cleanup(
		func() {
			customPasswordReader = nil
		},
	)

	var out bytes.Buffer
	password := promptPassword(&out)
	assert.Equal(t, "matched", password)
	assert.Contains(t, out.String(), "Passwords didn't match, try again.")
}
