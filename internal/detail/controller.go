// Package detail backs the single-job view: record, images, logs and the
// stored configuration, plus label and settings edits.
package detail

import (
	"context"
	"errors"
	"strings"

	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/pkg/log"
)

var ErrNoConfiguration = errors.New("job has no configuration")

type ConfigState string

const (
	// ConfigNone means the job was never linked to a configuration.
	ConfigNone   ConfigState = "none"
	ConfigLoaded ConfigState = "loaded"
	ConfigError  ConfigState = "error"
)

const (
	noConfigurationText   = "This job was created outside the configuration workflow and has no editable settings."
	configurationFailText = "The configuration for this job could not be loaded"
)

type ConfigurationView struct {
	State         ConfigState         `json:"state"`
	Configuration *jobs.Configuration `json:"configuration,omitempty"`
	Message       string              `json:"message,omitempty"`
}

// StatisticsSource tells where the counters on a loaded job came from.
type StatisticsSource string

const (
	StatsFromImages  StatisticsSource = "images"
	StatsFromService StatisticsSource = "service"
	StatsFromRecord  StatisticsSource = "record"
)

type Detail struct {
	Job              jobs.JobRecord     `json:"job"`
	Images           []jobs.ImageRecord `json:"images"`
	Logs             []jobs.LogEntry    `json:"logs"`
	Configuration    ConfigurationView  `json:"configuration"`
	StatisticsSource StatisticsSource   `json:"statisticsSource"`
	Warnings         []string           `json:"warnings,omitempty"`
}

type Controller struct {
	svc jobs.DetailSource
}

func New(svc jobs.DetailSource) *Controller {
	return &Controller{svc: svc}
}

// Load fetches a job and everything the detail view shows. Only the record
// itself is required; images, logs and configuration failures end up as
// warnings or states on the result.
func (c *Controller) Load(ctx context.Context, id jobs.ID) (Detail, error) {
	job, err := c.Job(ctx, id)
	if err != nil {
		return Detail{}, err
	}

	d := Detail{
		Job:              job,
		Images:           []jobs.ImageRecord{},
		Logs:             []jobs.LogEntry{},
		StatisticsSource: StatsFromRecord,
	}

	// images are keyed by the numeric primary key
	if _, ok := id.Numeric(); ok {
		c.loadStatistics(ctx, id, &d)
	}

	logs, err := c.logs(ctx, id)
	if err != nil {
		log.Warn("Failed to load logs for job %s: %v", id, err)
		d.Warnings = append(d.Warnings, "logs unavailable: "+jobs.Message(err))
	} else {
		d.Logs = logs
	}

	d.Configuration = c.LoadConfiguration(ctx, d.Job.ConfigurationID)
	return d, nil
}

// Job fetches only the record.
func (c *Controller) Job(ctx context.Context, id jobs.ID) (jobs.JobRecord, error) {
	var jr jobs.JobResult
	err := jobs.SafeCall("load job", func() (jobs.ActionResult, error) {
		var callErr error
		jr, callErr = c.svc.GetJob(ctx, id)
		return jr.ActionResult, callErr
	})
	if err != nil {
		return jobs.JobRecord{}, err
	}
	return jr.Job, nil
}

// loadStatistics recomputes the counters from the image list; the stored
// counters on the record may lag behind. If the images cannot be fetched
// the service's own statistics are used instead.
func (c *Controller) loadStatistics(ctx context.Context, id jobs.ID, d *Detail) {
	images, err := c.images(ctx, id)
	if err == nil {
		d.Images = images
		d.Job.ApplyStatistics(jobs.ComputeStatistics(images))
		d.StatisticsSource = StatsFromImages
		return
	}
	log.Warn("Failed to load images for job %s: %v", id, err)
	d.Warnings = append(d.Warnings, "images unavailable: "+jobs.Message(err))

	var sr jobs.StatisticsResult
	err = jobs.SafeCall("compute statistics", func() (jobs.ActionResult, error) {
		var callErr error
		sr, callErr = c.svc.ComputeJobStatistics(ctx, id)
		return sr.ActionResult, callErr
	})
	if err != nil {
		log.Warn("Failed to compute statistics for job %s: %v", id, err)
		d.Warnings = append(d.Warnings, "statistics unavailable: "+jobs.Message(err))
		return
	}
	d.Job.ApplyStatistics(sr.Statistics)
	d.StatisticsSource = StatsFromService
}

func (c *Controller) images(ctx context.Context, id jobs.ID) ([]jobs.ImageRecord, error) {
	var ir jobs.ImagesResult
	err := jobs.SafeCall("load images", func() (jobs.ActionResult, error) {
		var callErr error
		ir, callErr = c.svc.GetJobImages(ctx, id)
		return ir.ActionResult, callErr
	})
	if err != nil {
		return nil, err
	}
	if ir.Images == nil {
		return []jobs.ImageRecord{}, nil
	}
	return ir.Images, nil
}

func (c *Controller) logs(ctx context.Context, id jobs.ID) ([]jobs.LogEntry, error) {
	var lr jobs.LogsResult
	err := jobs.SafeCall("load logs", func() (jobs.ActionResult, error) {
		var callErr error
		lr, callErr = c.svc.GetJobLogs(ctx, id)
		return lr.ActionResult, callErr
	})
	if err != nil {
		return nil, err
	}
	if lr.Logs == nil {
		return []jobs.LogEntry{}, nil
	}
	return lr.Logs, nil
}

// RenameLabel stores the trimmed label. A blank label clears it.
func (c *Controller) RenameLabel(ctx context.Context, id jobs.ID, label string) (string, error) {
	label = strings.TrimSpace(label)
	err := jobs.SafeCall("rename job", func() (jobs.ActionResult, error) {
		return c.svc.RenameJob(ctx, id, label)
	})
	if err != nil {
		return "", err
	}
	log.Info("Renamed job %s to %q", id, label)
	return label, nil
}

// LoadConfiguration never fails: a missing configuration id yields
// ConfigNone, a failed lookup yields ConfigError.
func (c *Controller) LoadConfiguration(ctx context.Context, configurationID string) ConfigurationView {
	configurationID = strings.TrimSpace(configurationID)
	if configurationID == "" {
		return ConfigurationView{State: ConfigNone, Message: noConfigurationText}
	}
	cfg, err := c.configuration(ctx, configurationID)
	if err != nil {
		log.Warn("Failed to load configuration %s: %v", configurationID, err)
		return ConfigurationView{
			State:   ConfigError,
			Message: configurationFailText + ": " + jobs.Message(err),
		}
	}
	return ConfigurationView{State: ConfigLoaded, Configuration: cfg}
}

func (c *Controller) configuration(ctx context.Context, configurationID string) (*jobs.Configuration, error) {
	var cr jobs.ConfigurationResult
	err := jobs.SafeCall("load configuration", func() (jobs.ActionResult, error) {
		var callErr error
		cr, callErr = c.svc.GetJobConfiguration(ctx, configurationID)
		return cr.ActionResult, callErr
	})
	if err != nil {
		return nil, err
	}
	if cr.Configuration == nil {
		return nil, jobs.NewError(jobs.ErrBusiness, "configuration not found").
			WithContext("configurationId", configurationID)
	}
	return cr.Configuration, nil
}

// SaveConfiguration replaces every section present in partial and keeps the
// other stored sections, then writes the merged settings back.
func (c *Controller) SaveConfiguration(ctx context.Context, configurationID string, partial jobs.Settings) (jobs.Configuration, error) {
	configurationID = strings.TrimSpace(configurationID)
	if configurationID == "" {
		return jobs.Configuration{}, ErrNoConfiguration
	}
	stored, err := c.configuration(ctx, configurationID)
	if err != nil {
		return jobs.Configuration{}, err
	}

	merged := jobs.MergeSettings(stored.Settings, partial)
	err = jobs.SafeCall("save configuration", func() (jobs.ActionResult, error) {
		return c.svc.UpdateJobConfiguration(ctx, configurationID, merged)
	})
	if err != nil {
		return jobs.Configuration{}, err
	}

	updated := *stored
	updated.Settings = merged
	log.Info("Saved configuration %s (sections: %s)", configurationID, strings.Join(partial.Sections(), ","))
	return updated, nil
}
