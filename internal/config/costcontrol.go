// Cost control configuration re-exports.
//
// DESIGN: Price and dashboard types are defined in internal/costcontrol.
// This file re-exports them for use by Config and Settings.
package config

import "github.com/compresr/apibouncer/internal/costcontrol"

// DashboardConfig is an alias for costcontrol.DashboardConfig.
type DashboardConfig = costcontrol.DashboardConfig

// PriceTable is an alias for costcontrol.PriceTable.
type PriceTable = costcontrol.PriceTable
