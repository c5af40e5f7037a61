package xtal

import (
	"encoding/json"
	"fmt"
	"time"

	"polo/internal/model"
)

type runRecord struct {
	Name         string      `json:"run_name"`
	ImageDir     string      `json:"image_dir,omitempty"`
	Date         *time.Time  `json:"date,omitempty"`
	Spectrum     string      `json:"image_spectrum,omitempty"`
	PlateID      string      `json:"plate_id,omitempty"`
	Sample       string      `json:"sample,omitempty"`
	NumWells     int         `json:"num_wells,omitempty"`
	CocktailMenu string      `json:"cocktail_menu,omitempty"`
	Images       []*envelope `json:"images"`
}

type imageRecord struct {
	Path         string             `json:"path,omitempty"`
	Bytes        []byte             `json:"bites,omitempty"`
	WellNumber   int                `json:"well_number,omitempty"`
	Date         *time.Time         `json:"date,omitempty"`
	Spectrum     string             `json:"spectrum,omitempty"`
	PlateID      string             `json:"plate_id,omitempty"`
	HumanClass   string             `json:"human_class,omitempty"`
	MachineClass string             `json:"machine_class,omitempty"`
	Prediction   map[string]float64 `json:"prediction_dict,omitempty"`
	Favorite     bool               `json:"favorite,omitempty"`
	Cocktail     *envelope          `json:"cocktail,omitempty"`
}

type reagentRecord struct {
	Chemical      string `json:"chemical"`
	Concentration string `json:"concentration,omitempty"`
}

type cocktailRecord struct {
	Number         string          `json:"number"`
	WellAssignment int             `json:"well_assignment,omitempty"`
	CommercialCode string          `json:"commercial_code,omitempty"`
	PH             float64         `json:"pH,omitempty"`
	Reagents       []reagentRecord `json:"reagents,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func encodeRun(run *model.Run) (*envelope, error) {
	rec := runRecord{
		Name:         run.Name,
		ImageDir:     run.ImageDir,
		Date:         timePtr(run.Date),
		Spectrum:     string(run.Spectrum),
		PlateID:      run.PlateID,
		Sample:       run.Sample,
		NumWells:     run.NumWells,
		CocktailMenu: run.CocktailMenu,
	}
	if run.Images != nil {
		rec.Images = make([]*envelope, len(run.Images))
	}
	for i, img := range run.Images {
		if img == nil {
			continue
		}
		env, err := encodeImage(img)
		if err != nil {
			return nil, err
		}
		rec.Images[i] = env
	}
	tag := TagRun
	if run.Kind == model.RunKindHWI {
		tag = TagHWIRun
	}
	return wrap(tag, rec)
}

func encodeImage(img *model.Image) (*envelope, error) {
	rec := imageRecord{
		Path:         img.Path,
		Bytes:        img.InlineBytes,
		WellNumber:   img.WellNumber,
		Date:         timePtr(img.Date),
		Spectrum:     string(img.Spectrum),
		PlateID:      img.PlateID,
		HumanClass:   string(img.HumanClass),
		MachineClass: string(img.MachineClass),
		Favorite:     img.Favorite,
	}
	if len(img.ConfidenceMap) > 0 {
		rec.Prediction = make(map[string]float64, len(img.ConfidenceMap))
		for k, v := range img.ConfidenceMap {
			rec.Prediction[string(k)] = v
		}
	}
	if img.Cocktail != nil {
		env, err := encodeCocktail(img.Cocktail)
		if err != nil {
			return nil, err
		}
		rec.Cocktail = env
	}
	return wrap(TagImage, rec)
}

func encodeCocktail(c *model.CocktailRef) (*envelope, error) {
	rec := cocktailRecord{
		Number:         c.Number,
		WellAssignment: c.WellAssignment,
		CommercialCode: c.CommercialCode,
		PH:             c.PH,
	}
	for _, r := range c.Reagents {
		rec.Reagents = append(rec.Reagents, reagentRecord{Chemical: r.Chemical, Concentration: r.Concentration})
	}
	return wrap(TagCocktail, rec)
}

// runDecoder returns the constructor for runs of the given kind.
func runDecoder(kind model.RunKind) DecodeFunc {
	return func(reg *Registry, data json.RawMessage) (any, error) {
		return decodeRun(reg, data, kind)
	}
}

func decodeRun(reg *Registry, data json.RawMessage, kind model.RunKind) (any, error) {
	var rec runRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, corrupt("malformed run", err)
	}
	run := &model.Run{
		Kind:         kind,
		Name:         rec.Name,
		ImageDir:     rec.ImageDir,
		Date:         timeVal(rec.Date),
		Spectrum:     model.Spectrum(rec.Spectrum),
		PlateID:      rec.PlateID,
		Sample:       rec.Sample,
		NumWells:     rec.NumWells,
		CocktailMenu: rec.CocktailMenu,
	}
	if rec.Images != nil {
		run.Images = make([]*model.Image, len(rec.Images))
	}
	for i, env := range rec.Images {
		if env == nil {
			continue
		}
		v, err := reg.decode(env)
		if err != nil {
			return nil, err
		}
		img, ok := v.(*model.Image)
		if !ok {
			return nil, corrupt(fmt.Sprintf("image slot %d holds %q", i, env.Type), nil)
		}
		run.Images[i] = img
	}
	return run, nil
}

func decodeImage(reg *Registry, data json.RawMessage) (any, error) {
	var rec imageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, corrupt("malformed image", err)
	}
	img := &model.Image{
		Path:        rec.Path,
		InlineBytes: rec.Bytes,
		WellNumber:  rec.WellNumber,
		Date:        timeVal(rec.Date),
		Spectrum:    model.Spectrum(rec.Spectrum),
		PlateID:     rec.PlateID,
		Favorite:    rec.Favorite,
	}
	img.SetHumanClass(rec.HumanClass)
	img.SetMachineClass(rec.MachineClass)
	if len(rec.Prediction) > 0 {
		img.ConfidenceMap = make(map[model.Classification]float64, len(rec.Prediction))
		for k, v := range rec.Prediction {
			img.ConfidenceMap[model.Classification(k)] = v
		}
	}
	if rec.Cocktail != nil {
		v, err := reg.decode(rec.Cocktail)
		if err != nil {
			return nil, err
		}
		c, ok := v.(*model.CocktailRef)
		if !ok {
			return nil, corrupt(fmt.Sprintf("cocktail of well %d holds %q", rec.WellNumber, rec.Cocktail.Type), nil)
		}
		img.Cocktail = c
	}
	return img, nil
}

func decodeCocktail(_ *Registry, data json.RawMessage) (any, error) {
	var rec cocktailRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, corrupt("malformed cocktail", err)
	}
	c := &model.CocktailRef{
		Number:         rec.Number,
		WellAssignment: rec.WellAssignment,
		CommercialCode: rec.CommercialCode,
		PH:             rec.PH,
	}
	for _, r := range rec.Reagents {
		c.Reagents = append(c.Reagents, model.Reagent{Chemical: r.Chemical, Concentration: r.Concentration})
	}
	return c, nil
}
