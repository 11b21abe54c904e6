/*
 * Copyright 2026 The Quince Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quince-team/quince/server/auth"
)

// credentials is a generated private key and the server token it signs.
type credentials struct {
	PrivateKey  string `json:"privateKey"`
	ServerToken string `json:"serverToken"`
}

var genAuthJSON bool

func newGenAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-auth",
		Short: "Generate a private key and its server token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := generateCredentials()
			if err != nil {
				return err
			}

			if genAuthJSON {
				marshalled, err := json.MarshalIndent(creds, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal JSON: %w", err)
				}
				cmd.Println(string(marshalled))
				return nil
			}

			printCredentials(cmd, creds)
			return nil
		},
	}
}

func generateCredentials() (*credentials, error) {
	key, err := auth.GenerateKey()
	if err != nil {
		return nil, err
	}

	authenticator, err := auth.New(key)
	if err != nil {
		return nil, err
	}

	token, err := authenticator.ServerToken()
	if err != nil {
		return nil, err
	}

	return &credentials{
		PrivateKey:  key,
		ServerToken: token,
	}, nil
}

func printCredentials(cmd *cobra.Command, creds *credentials) {
	cmd.Println("Run quince serve with the following option to require authentication:")
	cmd.Println()
	cmd.Printf("   --auth %s\n", color.HiBlueString(creds.PrivateKey))
	cmd.Println()
	cmd.Println("Then pass the following server token when calling Quince from your own server:")
	cmd.Println()
	cmd.Printf("   %s\n", color.HiMagentaString(creds.ServerToken))
	cmd.Println()
	cmd.Println("For example, to create a document and get a token for it:")
	cmd.Println()
	cmd.Printf("   curl -X POST -H 'Authorization: Bearer %s' http://127.0.0.1:8080/doc/new\n",
		color.HiMagentaString(creds.ServerToken))
	cmd.Println()
	cmd.Println("Keep the server token on the server. Hand clients the document tokens from /doc/{docId}/auth.")
}

func init() {
	cmd := newGenAuthCmd()
	cmd.Flags().BoolVar(
		&genAuthJSON,
		"json",
		false,
		"Print the key and token as JSON",
	)
	rootCmd.AddCommand(cmd)
}
