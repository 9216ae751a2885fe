package department

import (
	"context"
	"strings"

	"github.com/unilib/unilib/pkg/logger"
)

// Service wraps repository operations with business logic. The upload
// pipeline consumes only Exists/Get; the rest serves the department API.
type Service struct {
	repo Repository
}

func NewService(r Repository) *Service { return &Service{repo: r} }

// Exists reports whether the department id resolves.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.repo.Get(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Department, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Department, error) {
	return s.repo.List(ctx)
}

// Create adds a department with a unique name.
func (s *Service) Create(ctx context.Context, name, description string) (*Department, error) {
	d := &Department{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if err := s.repo.Insert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

var seedList = []Department{
	{Name: "Computer Science", Description: "Computer Science and Programming"},
	{Name: "Literature", Description: "Literature and Language Studies"},
	{Name: "Engineering", Description: "Engineering and Technology"},
	{Name: "Mathematics", Description: "Mathematics and Statistics"},
	{Name: "Physics", Description: "Physics and Applied Sciences"},
	{Name: "Chemistry", Description: "Chemistry and Chemical Engineering"},
	{Name: "Biology", Description: "Biology and Life Sciences"},
	{Name: "History", Description: "History and Social Studies"},
	{Name: "Business", Description: "Business and Management"},
	{Name: "Medicine", Description: "Medicine and Health Sciences"},
}

// Seed inserts the default departments, skipping ones that already exist.
func (s *Service) Seed(ctx context.Context) error {
	for _, d := range seedList {
		if _, err := s.repo.GetByName(ctx, d.Name); err == nil {
			continue
		} else if err != ErrNotFound {
			return err
		}
		dd := d
		if err := s.repo.Insert(ctx, &dd); err != nil && err != ErrDuplicate {
			return err
		}
		logger.Infof("seeded department %q", d.Name)
	}
	return nil
}
