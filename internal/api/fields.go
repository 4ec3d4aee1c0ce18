package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"

	"github.com/menta2k/paddy-monitor/internal/models"
	"github.com/menta2k/paddy-monitor/internal/store"
)

const dateLayout = "2006-01-02"

type createFieldReq struct {
	Name         string  `json:"name"`
	Location     string  `json:"location"`
	AreaMu       float64 `json:"area_mu"`
	PlantingDate string  `json:"planting_date"`
}

func (s *Server) createField(c echo.Context) error {
	var req createFieldReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("bad json"))
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, errorBody("name is required"))
	}

	field := &models.Field{
		OwnerID:  owner(c),
		Name:     req.Name,
		Location: req.Location,
		AreaMu:   req.AreaMu,
	}
	if req.PlantingDate != "" {
		pd, err := time.Parse(dateLayout, req.PlantingDate)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("planting_date must be YYYY-MM-DD"))
		}
		d := datatypes.Date(pd)
		field.PlantingDate = &d
	}

	if err := s.store.CreateField(c.Request().Context(), field); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, field)
}

// updateFieldReq carries the attributes to change; absent keys keep their value
// and an empty planting_date clears it.
type updateFieldReq struct {
	Name         *string  `json:"name"`
	Location     *string  `json:"location"`
	AreaMu       *float64 `json:"area_mu"`
	PlantingDate *string  `json:"planting_date"`
}

func (s *Server) updateField(c echo.Context) error {
	field, ok, err := s.loadField(c)
	if !ok {
		return err
	}
	var req updateFieldReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("bad json"))
	}

	if req.Name != nil {
		if *req.Name == "" {
			return c.JSON(http.StatusBadRequest, errorBody("name is required"))
		}
		field.Name = *req.Name
	}
	if req.Location != nil {
		field.Location = *req.Location
	}
	if req.AreaMu != nil {
		field.AreaMu = *req.AreaMu
	}
	if req.PlantingDate != nil {
		field.PlantingDate = nil
		if *req.PlantingDate != "" {
			pd, err := time.Parse(dateLayout, *req.PlantingDate)
			if err != nil {
				return c.JSON(http.StatusBadRequest, errorBody("planting_date must be YYYY-MM-DD"))
			}
			d := datatypes.Date(pd)
			field.PlantingDate = &d
		}
	}

	if err := s.store.UpdateField(c.Request().Context(), field); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("field not found"))
		}
		return err
	}
	return c.JSON(http.StatusOK, field)
}

func (s *Server) listFields(c echo.Context) error {
	fields, err := s.store.ListFields(c.Request().Context(), owner(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, fields)
}

type fieldView struct {
	*models.Field
	PhotoGroups []photoGroupView `json:"photo_groups"`
}

type photoGroupView struct {
	models.PhotoGroup
	Result *models.AnalysisResult `json:"result,omitempty"`
}

func (s *Server) getField(c echo.Context) error {
	field, ok, err := s.loadField(c)
	if !ok {
		return err
	}

	groups, err := s.store.ListPhotoGroupsByField(c.Request().Context(), field.ID)
	if err != nil {
		return err
	}
	view := fieldView{Field: field, PhotoGroups: make([]photoGroupView, 0, len(groups))}
	for _, g := range groups {
		result := g.Result
		g.Result = nil
		view.PhotoGroups = append(view.PhotoGroups, photoGroupView{PhotoGroup: g, Result: result})
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) deleteField(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	if err := s.store.DeleteField(c.Request().Context(), owner(c), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("field not found"))
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) fieldResults(c echo.Context) error {
	field, ok, err := s.loadField(c)
	if !ok {
		return err
	}
	rows, err := s.store.ListResults(c.Request().Context(), store.ResultFilter{
		OwnerID:  owner(c),
		FieldIDs: []uint{field.ID},
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resultViews(rows))
}

// loadField resolves :id to a field of the caller. When ok is false the
// response has been written (or err must be returned).
func (s *Server) loadField(c echo.Context) (*models.Field, bool, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, false, c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	field, err := s.store.GetField(c.Request().Context(), owner(c), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, c.JSON(http.StatusNotFound, errorBody("field not found"))
	}
	if err != nil {
		return nil, false, err
	}
	return field, true, nil
}

func pathID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

// resultView is one stored result with the field and capture it belongs to
type resultView struct {
	FieldID      uint                  `json:"field_id"`
	FieldName    string                `json:"field_name"`
	Location     string                `json:"location"`
	PhotoGroupID uint                  `json:"photo_group_id"`
	CaptureDate  string                `json:"capture_date"`
	RiceVariety  *string               `json:"rice_variety,omitempty"`
	Result       models.AnalysisResult `json:"result"`
}

func resultViews(rows []store.ResultRow) []resultView {
	out := make([]resultView, 0, len(rows))
	for _, r := range rows {
		out = append(out, resultView{
			FieldID:      r.Field.ID,
			FieldName:    r.Field.Name,
			Location:     r.Field.Location,
			PhotoGroupID: r.Group.ID,
			CaptureDate:  time.Time(r.Group.CaptureDate).Format(dateLayout),
			RiceVariety:  r.Group.RiceVariety,
			Result:       r.Result,
		})
	}
	return out
}
