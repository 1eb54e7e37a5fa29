package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"veriflow.io/internal/compliance"
	"veriflow.io/internal/store/pg"
)

// seed-templates loads checklist templates into the store: the built-in
// starter set plus any templates from a JSON file.
func main() {
	log.SetFlags(0)
	var (
		file = flag.String("file", "", "Optional JSON file with an array of templates")
	)
	flag.Parse()

	dsn := os.Getenv("VERIFLOW_PG_DSN")
	if dsn == "" {
		log.Fatal("missing DSN: set VERIFLOW_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	templates := builtinTemplates()
	if *file != "" {
		extra, err := loadTemplates(*file)
		if err != nil {
			log.Fatalf("load %s: %v", *file, err)
		}
		templates = append(templates, extra...)
	}

	for _, tpl := range templates {
		created, err := store.UpsertTemplate(ctx, tpl)
		if err != nil {
			log.Fatalf("seed template %q: %v", tpl.Title, err)
		}
		log.Printf("seeded %s (%s)", created.Title, created.ID)
	}
}

func loadTemplates(path string) ([]compliance.ChecklistTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var templates []compliance.ChecklistTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func builtinTemplates() []compliance.ChecklistTemplate {
	return []compliance.ChecklistTemplate{
		{
			Title:        "New Service Business Basics",
			Region:       "US",
			BusinessType: "general",
			IsActive:     true,
			Sections: []compliance.Section{
				{
					Title: "Formation",
					Items: []compliance.Item{
						{ID: "ein", Label: "Obtain federal EIN", Frequency: compliance.FreqOnce},
						{ID: "entity-reg", Label: "Register business entity with the state", Frequency: compliance.FreqOnce},
						{ID: "annual-report", Label: "File annual report with the state", Frequency: compliance.FreqAnnually},
					},
				},
				{
					Title: "Taxes",
					Items: []compliance.Item{
						{ID: "est-tax", Label: "Pay quarterly estimated income tax", Frequency: compliance.FreqQuarterly},
						{ID: "sales-tax", Label: "File sales tax return", Frequency: compliance.FreqQuarterly},
					},
				},
				{
					Title: "Insurance",
					Items: []compliance.Item{
						{ID: "liability", Label: "Renew general liability policy", Frequency: compliance.FreqAnnually},
						{ID: "workers-comp", Label: "Renew workers compensation policy", Frequency: compliance.FreqAnnually},
					},
				},
			},
			Metadata: map[string]string{"source": "builtin"},
		},
	}
}
