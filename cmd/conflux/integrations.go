package main

import (
	"fmt"

	"github.com/confluxhq/conflux/internal/config"
	"github.com/confluxhq/conflux/internal/credentials"
	"github.com/confluxhq/conflux/internal/integrations/github"
	"github.com/confluxhq/conflux/internal/integrations/linear"
	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/integrations/slack"
	"github.com/confluxhq/conflux/internal/store"
	vaultapi "github.com/hashicorp/vault/api"
)

func buildRegistry(cfg config.Config) (*registry.Registry, error) {
	reg := registry.NewRegistry()
	if err := reg.Register(github.Definition(github.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		APIBase:      cfg.GitHubAPIBase,
	})); err != nil {
		return nil, err
	}
	if err := reg.Register(slack.Definition(slack.Config{
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		APIBase:      cfg.SlackAPIBase,
	})); err != nil {
		return nil, err
	}
	if err := reg.Register(linear.Definition(linear.Config{
		APIBase: cfg.LinearAPIBase,
	})); err != nil {
		return nil, err
	}
	return reg, nil
}

func buildResolver(cfg config.Config, st *store.Store) (*credentials.Resolver, error) {
	var vault *vaultapi.Client
	if cfg.VaultAddr != "" {
		vcfg := vaultapi.DefaultConfig()
		vcfg.Address = cfg.VaultAddr
		client, err := vaultapi.NewClient(vcfg)
		if err != nil {
			return nil, fmt.Errorf("vault client: %w", err)
		}
		if cfg.VaultToken != "" {
			client.SetToken(cfg.VaultToken)
		}
		vault = client
	}
	return credentials.NewResolver(st, vault), nil
}
