package export

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shrimpsizemoose/gradebook/internal/app"
	"github.com/shrimpsizemoose/gradebook/internal/models"
)

type GSheetExporter struct {
	service   *app.Service
	scheduler *gocron.Scheduler
	sheets    map[string]*sheets.Service
}

func NewGSheetExporter(service *app.Service) (*GSheetExporter, error) {
	ctx := context.Background()
	e := &GSheetExporter{
		service:   service,
		scheduler: gocron.NewScheduler(time.UTC),
		sheets:    make(map[string]*sheets.Service),
	}

	for _, cfg := range service.Config.GSheet {
		svc, ok := e.sheets[cfg.CredentialsPath]
		if !ok {
			var err error
			svc, err = sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
			if err != nil {
				return nil, fmt.Errorf("failed to create sheets service: %w", err)
			}
			e.sheets[cfg.CredentialsPath] = svc
		}

		_, err := e.scheduler.Cron(cfg.Schedule).Do(func() {
			if err := e.Export(ctx, svc, &cfg); err != nil {
				logger.Error.Printf("Export of course %d failed: %v", cfg.CourseID, err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule export: %w", err)
		}
		logger.Info.Printf("Scheduled export of course %d to %s (%s)", cfg.CourseID, cfg.SheetName, cfg.Schedule)
	}

	return e, nil
}

func (e *GSheetExporter) Start() {
	e.scheduler.StartAsync()
}

func (e *GSheetExporter) Stop() {
	e.scheduler.Stop()
}

func (e *GSheetExporter) Export(ctx context.Context, svc *sheets.Service, cfg *app.GSheetConfig) error {
	rows, err := e.service.GradeReport(ctx, cfg.CourseID)
	if err != nil {
		return err
	}

	writeRange := reportRange(cfg, len(rows))
	_, err = svc.Spreadsheets.Values.Update(cfg.SheetID, writeRange,
		&sheets.ValueRange{Values: reportValues(rows)}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update grades: %w", err)
	}

	if cfg.TimestampRange == "" {
		return nil
	}
	timestamp := fmt.Sprintf("UPD: %s %s", time.Now().Format("2 January 15:04"), e.pickEmoji())

	updateRange := fmt.Sprintf("%s!%s", cfg.SheetName, cfg.TimestampRange)
	_, err = svc.Spreadsheets.Values.Update(cfg.SheetID, updateRange,
		&sheets.ValueRange{Values: [][]interface{}{{timestamp}}}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update timestamp: %w", err)
	}

	logger.Info.Printf("Exported %d grades of course %d", len(rows), cfg.CourseID)
	return nil
}

func (e *GSheetExporter) pickEmoji() string {
	variants := e.service.Config.EmojiVariants
	if len(variants) == 0 {
		return ""
	}
	return variants[rand.Intn(len(variants))]
}

// reportRange covers three columns starting at StartRow, e.g. Grades!A4:C10.
func reportRange(cfg *app.GSheetConfig, n int) string {
	start := cfg.StartRow
	if start <= 0 {
		start = 1
	}
	end := start + n - 1
	if end < start {
		end = start
	}
	return fmt.Sprintf("%s!A%d:C%d", cfg.SheetName, start, end)
}

func reportValues(rows []models.GradeReportRow) [][]interface{} {
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		number := ""
		if row.StudentNumber != nil {
			number = *row.StudentNumber
		}
		values = append(values, []interface{}{number, row.Username, row.Grade})
	}
	return values
}
