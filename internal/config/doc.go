// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package config loads and validates Realmgate configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file (CONFIG_PATH, ./config.yaml or /etc/realmgate/config.yaml), then
// environment variables. Only mapped environment variables are read; see
// envTransformFunc for the full list.
//
// External applications are declared with EXTERNAL_APPS (comma separated).
// Each app NAME then needs NAME_URL and NAME_TOKEN, where NAME is upper-cased
// and dashes become underscores:
//
//	EXTERNAL_APPS=kernel,ui-odk
//	KERNEL_URL=http://kernel:8000
//	KERNEL_TOKEN=secret
//	UI_ODK_URL=http://odk:8002/{realm}
//	UI_ODK_TOKEN=secret
//
// Components never read configuration globally. main derives a
// DeploymentConfig with Config.Deployment and passes it, together with the
// component's own section, into each constructor.
package config
