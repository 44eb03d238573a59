// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/absmach/mqttscope/client"
	"github.com/absmach/mqttscope/config"
	"github.com/absmach/mqttscope/decoder"
)

// clientOptions maps the runner configuration onto client options. Collaborators
// such as the dialer and logger are set by the caller.
func clientOptions(cfg *config.Config) (*client.Options, error) {
	opts := client.NewOptions().
		SetBroker(cfg.Broker.Host, cfg.Broker.Port).
		SetClientID(cfg.Broker.ClientID).
		SetCredentials(cfg.Broker.Username, cfg.Broker.Password).
		SetCleanSession(cfg.Broker.CleanSession).
		SetKeepAlive(cfg.Broker.KeepAlive).
		SetConnectTimeout(cfg.Broker.ConnectTimeout).
		SetAckTimeout(cfg.Broker.AckTimeout).
		SetBreaker(cfg.Broker.BreakerThreshold, cfg.Broker.BreakerTimeout).
		SetKeepN(cfg.Client.KeepN).
		SetAcceptRetained(cfg.Client.AcceptRetained).
		SetDiscoveryFilter(cfg.Client.DiscoveryFilter).
		SetDecoderExpression(cfg.Client.DecoderExpression).
		SetUpdateInterval(cfg.Client.UpdateInterval).
		SetEventBufferSize(cfg.Client.EventBuffer)

	if !cfg.Will.Enabled {
		return opts, nil
	}

	stats := make([]decoder.Statistic, 0, len(cfg.Will.Statistics))
	for _, name := range cfg.Will.Statistics {
		s, err := decoder.ParseStatistic(name)
		if err != nil {
			return nil, fmt.Errorf("will.statistics: %w", err)
		}
		stats = append(stats, s)
	}

	opts.SetWill(client.WillOptions{
		Enabled:          true,
		Topic:            cfg.Will.Topic,
		QoS:              cfg.Will.QoS,
		Retain:           cfg.Will.Retain,
		Type:             client.WillType(cfg.Will.Type),
		Message:          cfg.Will.Message,
		StatisticsTopic:  cfg.Will.StatisticsTopic,
		StatisticsColumn: cfg.Will.StatisticsColumn,
		Statistics:       stats,
		UpdateInterval:   cfg.Will.UpdateInterval,
	})
	return opts, nil
}
