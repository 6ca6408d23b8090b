// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides a CLI tool for managing the users of the gateway's
// built-in authenticator.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/turtacn/exproto-go/pkg/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("exproto-user", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	command := fs.String("cmd", "", "Command: generate, list, add, update, remove, enable, disable, superuser")
	username := fs.String("user", "", "Username")
	password := fs.String("pass", "", "Password")
	algorithm := fs.String("algo", "bcrypt", "Password algorithm: plain, sha256, bcrypt")
	enabled := fs.Bool("enabled", true, "User enabled status")
	superuser := fs.Bool("superuser", true, "Superuser flag for the superuser command")

	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprintf(w, "exproto-go user management tool\n\n")
		fmt.Fprintf(w, "Usage: exproto-user -cmd=<command> [OPTIONS]\n\n")
		fmt.Fprintf(w, "Commands:\n")
		fmt.Fprintf(w, "  generate              Generate sample config file\n")
		fmt.Fprintf(w, "  list                  List all users\n")
		fmt.Fprintf(w, "  add                   Add a new user\n")
		fmt.Fprintf(w, "  update                Update an existing user\n")
		fmt.Fprintf(w, "  remove                Remove a user\n")
		fmt.Fprintf(w, "  enable                Enable a user\n")
		fmt.Fprintf(w, "  disable               Disable a user\n")
		fmt.Fprintf(w, "  superuser             Set the superuser flag of a user\n")
		fmt.Fprintf(w, "\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *command {
	case "":
		fs.Usage()
		return errors.New("no command given")
	case "generate":
		return generateConfig(out, *configPath)
	case "list":
		return listUsers(out, *configPath)
	}

	if *username == "" {
		return errors.New("username is required")
	}
	var msg string
	err := modify(*configPath, func(cfg *config.Config) error {
		switch *command {
		case "add":
			if *password == "" {
				return errors.New("password is required")
			}
			msg = fmt.Sprintf("User '%s' added (algorithm: %s, status: %s)", *username, *algorithm, status(*enabled))
			return cfg.AddUser(*username, *password, *algorithm, *enabled)
		case "update":
			msg = fmt.Sprintf("User '%s' updated", *username)
			algo := ""
			if isSet(fs, "algo") {
				algo = *algorithm
			}
			return cfg.UpdateUser(*username, *password, algo, *enabled)
		case "remove":
			msg = fmt.Sprintf("User '%s' removed", *username)
			return cfg.RemoveUser(*username)
		case "enable", "disable":
			on := *command == "enable"
			msg = fmt.Sprintf("User '%s' %s", *username, status(on))
			return cfg.SetUserEnabled(*username, on)
		case "superuser":
			msg = fmt.Sprintf("User '%s' superuser: %t", *username, *superuser)
			return cfg.SetSuperuser(*username, *superuser)
		default:
			return fmt.Errorf("unknown command: %s", *command)
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, msg)
	return nil
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func status(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// modify loads the config file, applies fn and saves the result.
func modify(configPath string, fn func(*config.Config) error) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func generateConfig(out io.Writer, configPath string) error {
	if err := config.SaveConfig(config.DefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}
	fmt.Fprintf(out, "Sample configuration saved to %s\n", configPath)
	return nil
}

func listUsers(out io.Writer, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	users := cfg.ListUsers()
	if len(users) == 0 {
		fmt.Fprintln(out, "No users configured")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tALGORITHM\tENABLED\tSUPERUSER\tPASSWORD")
	for _, user := range users {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", user.Username, user.Algorithm, user.Enabled, user.Superuser, maskPassword(user.Password))
	}
	return w.Flush()
}

// maskPassword hides the middle of a password.
func maskPassword(password string) string {
	switch {
	case len(password) > 8:
		return password[:4] + "****" + password[len(password)-4:]
	case len(password) > 4:
		return password[:2] + "****" + password[len(password)-2:]
	default:
		return "****"
	}
}
