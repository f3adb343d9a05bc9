// services/extraction_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"regexp"

	"github.com/google/uuid"

	"github.com/brandbeacon/beacon-workflows/internal/config"
	"github.com/brandbeacon/beacon-workflows/internal/models"
	"github.com/brandbeacon/beacon-workflows/internal/normalize"
	"github.com/brandbeacon/beacon-workflows/internal/repositories/postgresql"
)

// brandTagPattern matches <brand>Name</brand> with an optional domain
// attribute, in document order.
var brandTagPattern = regexp.MustCompile(`<brand(?:\s+domain="([^"]*)")?\s*>([^<]+)</brand>`)

type extractionService struct {
	repos          *RepositoryManager
	keepSubdomains []string
}

func NewExtractionService(repos *RepositoryManager, cfg *config.Config) ExtractionService {
	return &extractionService{
		repos:          repos,
		keepSubdomains: cfg.Pipeline.CitationKeepSubdomains,
	}
}

// brandTag is one tag occurrence before entity resolution.
type brandTag struct {
	Name     string
	Domain   string
	Position int // 1-based document order
}

// ProcessResponse extracts tagged brand mentions from one response, resolves
// each to the tracked company or a competitor (creating generated competitors
// for unknown brands), deduplicates per entity keeping the first occurrence's
// position, and persists mentions and citations.
//
// A response with zero tags is valid: it contributes zero mentions.
func (s *extractionService) ProcessResponse(ctx context.Context, company *models.Company, response *models.Response, citations []CitationData) (*ExtractionResult, error) {
	tags := parseBrandTags(response.Content)

	competitors, err := s.repos.CompetitorRepo.ListByCompany(ctx, company.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load competitors: %w", err)
	}

	byName := make(map[string]*models.Competitor, len(competitors))
	byWebsite := make(map[string]*models.Competitor, len(competitors))
	for _, c := range competitors {
		byName[c.NormalizedName] = c
		if c.NormalizedWebsite != "" {
			byWebsite[c.NormalizedWebsite] = c
		}
	}

	companyName := normalize.Name(company.Name)
	companyDomain := normalize.Domain(company.Website)

	result := &ExtractionResult{}
	var mentions []*models.Mention
	seenCompany := false
	seenCompetitors := make(map[uuid.UUID]bool)

	for _, tag := range tags {
		normName := normalize.Name(tag.Name)
		normDomain := normalize.Domain(tag.Domain)
		if normName == "" {
			continue
		}

		// Tracked company first: exact normalized name or website match.
		if normName == companyName || (normDomain != "" && normDomain == companyDomain) {
			if seenCompany {
				continue
			}
			seenCompany = true
			companyID := company.CompanyID
			mentions = append(mentions, &models.Mention{
				ResponseID: response.ResponseID,
				Position:   tag.Position,
				CompanyID:  &companyID,
			})
			result.CompanyMention = true
			continue
		}

		competitor := byName[normName]
		if competitor == nil && normDomain != "" {
			competitor = byWebsite[normDomain]
		}
		if competitor == nil {
			competitor, err = s.createOrReread(ctx, company.CompanyID, tag.Name, normName, normDomain)
			if err != nil {
				log.Printf("[ProcessResponse] WARNING: could not resolve brand %q for response %s: %v", tag.Name, response.ResponseID, err)
				continue
			}
			if competitor.IsGenerated && !seenCompetitors[competitor.CompetitorID] {
				result.NewCompetitors++
			}
			byName[competitor.NormalizedName] = competitor
			if competitor.NormalizedWebsite != "" {
				byWebsite[competitor.NormalizedWebsite] = competitor
			}
		}

		if seenCompetitors[competitor.CompetitorID] {
			continue
		}
		seenCompetitors[competitor.CompetitorID] = true
		competitorID := competitor.CompetitorID
		mentions = append(mentions, &models.Mention{
			ResponseID:   response.ResponseID,
			Position:     tag.Position,
			CompetitorID: &competitorID,
		})
	}

	if err := s.repos.MentionRepo.BulkCreate(ctx, mentions); err != nil {
		return nil, fmt.Errorf("failed to persist mentions: %w", err)
	}
	result.MentionCount = len(mentions)

	citationRows := s.buildCitations(response.ResponseID, citations)
	if err := s.repos.CitationRepo.BulkCreate(ctx, citationRows); err != nil {
		return nil, fmt.Errorf("failed to persist citations: %w", err)
	}
	result.CitationCount = len(citationRows)

	return result, nil
}

// createOrReread inserts a generated competitor; if another worker won the
// insert race the unique violation is recovered by re-reading the winning row.
func (s *extractionService) createOrReread(ctx context.Context, companyID uuid.UUID, displayName, normName, normDomain string) (*models.Competitor, error) {
	competitor := &models.Competitor{
		CompanyID:         companyID,
		Name:              displayName,
		NormalizedName:    normName,
		NormalizedWebsite: normDomain,
		IsGenerated:       true,
	}

	err := s.repos.CompetitorRepo.Create(ctx, competitor)
	if err == nil {
		return competitor, nil
	}
	if !postgresql.IsUniqueViolation(err) {
		return nil, err
	}

	existing, findErr := s.repos.CompetitorRepo.Find(ctx, companyID, normName, normDomain)
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		return nil, fmt.Errorf("competitor %q vanished after unique violation: %w", normName, err)
	}
	return existing, nil
}

func (s *extractionService) buildCitations(responseID uuid.UUID, citations []CitationData) []*models.Citation {
	rows := make([]*models.Citation, 0, len(citations))
	for i, c := range citations {
		domain := normalize.CitationDomain(c.URL, s.keepSubdomains)
		if domain == "" {
			continue
		}
		row := &models.Citation{
			ResponseID: responseID,
			URL:        c.URL,
			Domain:     domain,
			Position:   i + 1,
		}
		if c.Title != "" {
			title := c.Title
			row.Title = &title
		}
		rows = append(rows, row)
	}
	return rows
}

// parseBrandTags returns every tag occurrence with its 1-based document
// position.
func parseBrandTags(content string) []brandTag {
	matches := brandTagPattern.FindAllStringSubmatch(content, -1)
	tags := make([]brandTag, 0, len(matches))
	for i, m := range matches {
		tags = append(tags, brandTag{
			Domain:   m[1],
			Name:     m[2],
			Position: i + 1,
		})
	}
	return tags
}
