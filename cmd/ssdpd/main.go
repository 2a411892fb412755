/*
 * Copyright 2025 James Orson.
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

// Command ssdpd advertises configured devices over SSDP and serves their
// description documents.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/JamesOrson/defold/pkg/config"
	"github.com/JamesOrson/defold/pkg/logger"
	"github.com/JamesOrson/defold/pkg/models"
	"github.com/JamesOrson/defold/pkg/ssdp"
	"github.com/JamesOrson/defold/pkg/version"
)

const tickInterval = 250 * time.Millisecond

var (
	errFailedToLoadConfig = errors.New("failed to load ssdpd configuration")
	errDeviceMissingID    = errors.New("device entry missing id")
	errDeviceMissingType  = errors.New("device entry missing device_type")
)

type deviceConfig struct {
	ID          string `json:"id"`
	UDN         string `json:"udn,omitempty"`
	DeviceType  string `json:"device_type"`
	Description string `json:"description"`
}

type daemonConfig struct {
	Logging *logger.Config `json:"logging,omitempty"`
	SSDP    ssdp.Config    `json:"ssdp"`
	Devices []deviceConfig `json:"devices"`
}

func (c *daemonConfig) Validate() error {
	for i := range c.Devices {
		if c.Devices[i].ID == "" {
			return errDeviceMissingID
		}

		if c.Devices[i].DeviceType == "" {
			return errDeviceMissingType
		}
	}

	if c.SSDP.ServerHeader == "" {
		c.SSDP.ServerHeader = serverHeader()
	}

	return c.SSDP.Validate()
}

// serverHeader builds the advertised SERVER value from the host platform.
// An empty return falls back to the engine's default.
func serverHeader() string {
	info, err := host.Info()
	if err != nil {
		return ""
	}

	platform := info.Platform
	if platform == "" {
		platform = info.OS
	}

	return fmt.Sprintf("%s/%s UPnP/1.0 Defold/%s", platform, info.PlatformVersion, version.GetVersion())
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configFile := flag.String("config", "/etc/defold/ssdpd.json", "Path to ssdpd config file")
	searchInterval := flag.Duration("search-interval", 0, "How often to probe the network with M-SEARCH (0 disables)")

	flag.Parse()

	ctx := context.Background()

	var cfg daemonConfig

	loader := config.NewLoader(nil)
	if err := loader.LoadAndValidate(ctx, *configFile, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	appLog, err := logger.New(ctx, cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	engine, err := ssdp.New(cfg.SSDP, appLog)
	if err != nil {
		return err
	}

	descriptors := make([]*models.DeviceDescriptor, 0, len(cfg.Devices))

	for i := range cfg.Devices {
		dev := cfg.Devices[i]
		if dev.UDN == "" {
			dev.UDN = "uuid:" + uuid.NewString()
		}

		desc := &models.DeviceDescriptor{
			ID:                  dev.ID,
			UDN:                 dev.UDN,
			DeviceType:          dev.DeviceType,
			DescriptionTemplate: dev.Description,
		}

		if err := engine.RegisterDevice(desc); err != nil {
			_ = engine.Close()
			return fmt.Errorf("failed to register device %q: %w", dev.ID, err)
		}

		descriptors = append(descriptors, desc)

		appLog.Info().Str("device", dev.ID).Str("udn", dev.UDN).Msg("advertising device")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var nextSearch time.Time
	if *searchInterval > 0 {
		nextSearch = time.Now()
	}

	appLog.Info().Str("http_port", engine.HTTPPort()).Msg("ssdpd running")

	for {
		select {
		case sig := <-sigCh:
			appLog.Info().Str("signal", sig.String()).Msg("shutting down")

			for _, desc := range descriptors {
				if err := engine.DeregisterDevice(desc.ID); err != nil {
					appLog.Warn().Err(err).Str("device", desc.ID).Msg("failed to deregister device")
				}
			}

			err := engine.Close()

			if shutdownErr := logger.Shutdown(); shutdownErr != nil && err == nil {
				err = shutdownErr
			}

			return err
		case <-ticker.C:
			search := *searchInterval > 0 && !time.Now().Before(nextSearch)
			if search {
				nextSearch = time.Now().Add(*searchInterval)
			}

			engine.Update(search)
		}
	}
}
