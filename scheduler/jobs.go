// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/deveshjha247/Nirman/learning"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

// Standard job names, also accepted by RunNow.
const (
	JobAutofixMiner = "autofix-miner"
	JobAggregator   = "preference-aggregator"
	JobPatternMiner = "pattern-miner"
	JobRetention    = "retention-cleanup"
)

// LearningJobs builds the standard background job set: the autofix miner
// on the hourly interval, and the preference aggregator, pattern miner,
// and retention cleanup on the nightly interval.
func LearningJobs(store *badgerstore.Store, logger *slog.Logger, hourly, nightly time.Duration) []Job {
	fixMiner := learning.NewFixMiner(store, logger)
	aggregator := learning.NewAggregator(store, logger)
	patternMiner := learning.NewPatternMiner(store, logger)

	return []Job{
		{
			Name:     JobAutofixMiner,
			Interval: hourly,
			Run: func(ctx context.Context) error {
				_, err := fixMiner.Mine(ctx)
				return err
			},
		},
		{
			Name:     JobAggregator,
			Interval: nightly,
			Run: func(ctx context.Context) error {
				_, err := aggregator.Aggregate(ctx)
				return err
			},
		},
		{
			Name:     JobPatternMiner,
			Interval: nightly,
			Run: func(ctx context.Context) error {
				_, err := patternMiner.Mine(ctx)
				return err
			},
		},
		{
			Name:     JobRetention,
			Interval: nightly,
			Run: func(ctx context.Context) error {
				return learning.Cleanup(ctx, store, logger)
			},
		},
	}
}
