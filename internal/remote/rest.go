package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// RESTConfig holds the explicit parameters of a REST session. It replaces
// ambient configuration: callers construct it and pass it in.
type RESTConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Secure   bool
	// Timeout bounds every remote call. Zero means DefaultTimeout; the
	// session never blocks unbounded.
	Timeout time.Duration
}

// DefaultTimeout applies when RESTConfig.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// REST binds the Client interface onto the server's JSON API. Each call is
// one fresh round trip; no retries, no caching.
type REST struct {
	cfg       RESTConfig
	http      *resty.Client
	connected bool
}

// NewREST builds an unconnected REST client from cfg.
func NewREST(cfg RESTConfig) *REST {
	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := resty.New().
		SetBaseURL(fmt.Sprintf("%s://%s:%d/api/v0", scheme, cfg.Host, cfg.Port)).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &REST{cfg: cfg, http: httpClient}
}

func (r *REST) Driver() Driver { return DriverREST }

type loginResponse struct {
	Token string `json:"token"`
}

type apiError struct {
	Message string `json:"message"`
}

// Connect logs in and stores the bearer token for the session.
func (r *REST) Connect(ctx context.Context) error {
	var login loginResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": r.cfg.Username, "password": r.cfg.Password}).
		SetResult(&login).
		SetError(&apiError{}).
		Post("/login")
	if err != nil {
		return domain.ConnectionError{Host: r.cfg.Host, Err: err}
	}
	if resp.IsError() || login.Token == "" {
		return domain.ConnectionError{Host: r.cfg.Host, Err: fmt.Errorf("login rejected: %s", resp.Status())}
	}
	r.http.SetAuthToken(login.Token)
	r.connected = true
	return nil
}

// Close releases the session. Idempotent: a second close is a no-op.
func (r *REST) Close(ctx context.Context) error {
	if !r.connected {
		return nil
	}
	r.connected = false
	resp, err := r.http.R().SetContext(ctx).Post("/logout")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("logout: %s", resp.Status())
	}
	return nil
}

func (r *REST) check() error {
	if !r.connected {
		return ErrClosed
	}
	return nil
}

// call performs one JSON round trip and maps 404 onto NotFoundError.
func (r *REST) call(ctx context.Context, method, path string, body, result any, entity domain.EntityType, id string) error {
	if err := r.check(); err != nil {
		return err
	}
	req := r.http.R().SetContext(ctx).SetError(&apiError{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return domain.NotFoundError{Entity: entity, ID: id}
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}
	return nil
}

type projectDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Owner       string   `json:"owner"`
	Created     string   `json:"created"`
	DatasetIDs  []string `json:"dataset_ids"`
}

type datasetDTO struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Owner    string   `json:"owner"`
	Created  string   `json:"created"`
	ImageIDs []string `json:"image_ids"`
}

type imageDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Created string `json:"created"`
	SizeX   int    `json:"size_x"`
	SizeY   int    `json:"size_y"`
	SizeZ   int    `json:"size_z"`
	SizeC   int    `json:"size_c"`
	SizeT   int    `json:"size_t"`
}

type keyValueDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type annotationDTO struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Value    string        `json:"value,omitempty"`
	Pairs    []keyValueDTO `json:"pairs,omitempty"`
	FileName string        `json:"file_name,omitempty"`
	FileSize int64         `json:"file_size,omitempty"`
}

func parseCreated(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d projectDTO) toProject() Project {
	return Project{ID: d.ID, Name: d.Name, Description: d.Description, Owner: d.Owner, Created: parseCreated(d.Created), DatasetIDs: d.DatasetIDs}
}

func (d datasetDTO) toDataset() Dataset {
	return Dataset{ID: d.ID, Name: d.Name, Owner: d.Owner, Created: parseCreated(d.Created), ImageIDs: d.ImageIDs}
}

func (d imageDTO) toImage() Image {
	return Image{ID: d.ID, Name: d.Name, Owner: d.Owner, Created: parseCreated(d.Created), SizeX: d.SizeX, SizeY: d.SizeY, SizeZ: d.SizeZ, SizeC: d.SizeC, SizeT: d.SizeT}
}

func (d annotationDTO) toAnnotation() Annotation {
	ann := Annotation{ID: d.ID, Kind: AnnotationKind(d.Kind), Value: d.Value}
	for _, p := range d.Pairs {
		ann.Pairs = append(ann.Pairs, KeyValue(p))
	}
	if ann.Kind == AnnotationFile {
		ann.File = FileInfo{Name: d.FileName, Size: d.FileSize}
	}
	return ann
}

func (r *REST) ListProjects(ctx context.Context) ([]Project, error) {
	var dtos []projectDTO
	if err := r.call(ctx, http.MethodGet, "/m/projects", nil, &dtos, domain.EntityProject, ""); err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toProject())
	}
	return out, nil
}

func (r *REST) GetProject(ctx context.Context, id string) (Project, error) {
	var dto projectDTO
	if err := r.call(ctx, http.MethodGet, "/m/projects/"+id, nil, &dto, domain.EntityProject, id); err != nil {
		return Project{}, err
	}
	return dto.toProject(), nil
}

func (r *REST) CreateProject(ctx context.Context, name, description string) (Project, error) {
	var dto projectDTO
	body := map[string]string{"name": name, "description": description}
	if err := r.call(ctx, http.MethodPost, "/m/projects", body, &dto, domain.EntityProject, ""); err != nil {
		return Project{}, err
	}
	return dto.toProject(), nil
}

func (r *REST) SaveProject(ctx context.Context, project Project) error {
	body := map[string]string{"name": project.Name, "description": project.Description}
	return r.call(ctx, http.MethodPut, "/m/projects/"+project.ID, body, nil, domain.EntityProject, project.ID)
}

func (r *REST) CreateDataset(ctx context.Context, name string) (Dataset, error) {
	var dto datasetDTO
	if err := r.call(ctx, http.MethodPost, "/m/datasets", map[string]string{"name": name}, &dto, domain.EntityDataset, ""); err != nil {
		return Dataset{}, err
	}
	return dto.toDataset(), nil
}

func (r *REST) LinkDatasetToProject(ctx context.Context, datasetID, projectID string) error {
	body := map[string]string{"project": projectID, "dataset": datasetID}
	return r.call(ctx, http.MethodPost, "/m/projectdatasetlinks", body, nil, domain.EntityDataset, datasetID)
}

func (r *REST) GetDataset(ctx context.Context, id string) (Dataset, error) {
	var dto datasetDTO
	if err := r.call(ctx, http.MethodGet, "/m/datasets/"+id, nil, &dto, domain.EntityDataset, id); err != nil {
		return Dataset{}, err
	}
	return dto.toDataset(), nil
}

func (r *REST) SaveDataset(ctx context.Context, dataset Dataset) error {
	body := map[string]string{"name": dataset.Name}
	return r.call(ctx, http.MethodPut, "/m/datasets/"+dataset.ID, body, nil, domain.EntityDataset, dataset.ID)
}

func (r *REST) GetImage(ctx context.Context, id string) (Image, error) {
	var dto imageDTO
	if err := r.call(ctx, http.MethodGet, "/m/images/"+id, nil, &dto, domain.EntityImage, id); err != nil {
		return Image{}, err
	}
	return dto.toImage(), nil
}

func (r *REST) SaveImage(ctx context.Context, image Image) error {
	body := map[string]string{"name": image.Name}
	return r.call(ctx, http.MethodPut, "/m/images/"+image.ID, body, nil, domain.EntityImage, image.ID)
}

func (r *REST) DeleteImage(ctx context.Context, id string) error {
	return r.call(ctx, http.MethodDelete, "/m/images/"+id, nil, nil, domain.EntityImage, id)
}

func (r *REST) ImportImage(ctx context.Context, datasetID, path, name string) (Image, error) {
	if err := r.check(); err != nil {
		return Image{}, err
	}
	var dto imageDTO
	resp, err := r.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetFormData(map[string]string{"name": name}).
		SetResult(&dto).
		SetError(&apiError{}).
		Post("/import/datasets/" + datasetID)
	if err != nil {
		return Image{}, fmt.Errorf("import into dataset %s: %w", datasetID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Image{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: datasetID}
	}
	if resp.IsError() {
		return Image{}, fmt.Errorf("import into dataset %s: %s", datasetID, resp.Status())
	}
	return dto.toImage(), nil
}

func (r *REST) ExportImage(ctx context.Context, id string, w io.Writer) error {
	return r.stream(ctx, "/m/images/"+id+"/file", w, domain.EntityImage, id)
}

func (r *REST) GetPlane(ctx context.Context, imageID string, z, c, t int) (Plane, error) {
	if err := r.check(); err != nil {
		return Plane{}, err
	}
	resp, err := r.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(fmt.Sprintf("/m/images/%s/planes/%d/%d/%d", imageID, z, c, t))
	if err != nil {
		return Plane{}, fmt.Errorf("plane (%d,%d,%d) of image %s: %w", z, c, t, imageID, err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if resp.StatusCode() == http.StatusNotFound {
		return Plane{}, domain.NotFoundError{Entity: domain.EntityImage, ID: imageID}
	}
	if resp.IsError() {
		return Plane{}, fmt.Errorf("plane (%d,%d,%d) of image %s: %s", z, c, t, imageID, resp.Status())
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return Plane{}, err
	}
	return Plane{Z: z, C: c, T: t, Bytes: data}, nil
}

func (r *REST) ParentProject(ctx context.Context, imageID string) (Project, error) {
	var dto projectDTO
	if err := r.call(ctx, http.MethodGet, "/m/images/"+imageID+"/project", nil, &dto, domain.EntityImage, imageID); err != nil {
		return Project{}, err
	}
	return dto.toProject(), nil
}

func annotationPath(ref ObjectRef) string {
	switch ref.Type {
	case ObjectProject:
		return "/m/projects/" + ref.ID + "/annotations"
	case ObjectDataset:
		return "/m/datasets/" + ref.ID + "/annotations"
	case ObjectImage:
		return "/m/images/" + ref.ID + "/annotations"
	default:
		return "/m/annotations/" + ref.ID
	}
}

func (r *REST) ListAnnotations(ctx context.Context, ref ObjectRef) ([]Annotation, error) {
	var dtos []annotationDTO
	if err := r.call(ctx, http.MethodGet, annotationPath(ref), nil, &dtos, domain.EntityAnnotation, ref.ID); err != nil {
		return nil, err
	}
	out := make([]Annotation, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toAnnotation())
	}
	return out, nil
}

func (r *REST) GetFileAnnotation(ctx context.Context, id string) (Annotation, error) {
	var dto annotationDTO
	if err := r.call(ctx, http.MethodGet, "/m/fileannotations/"+id, nil, &dto, domain.EntityFileAnnotation, id); err != nil {
		return Annotation{}, err
	}
	return dto.toAnnotation(), nil
}

func (r *REST) CreateTagAnnotation(ctx context.Context, value string) (Annotation, error) {
	var dto annotationDTO
	if err := r.call(ctx, http.MethodPost, "/m/tagannotations", map[string]string{"value": value}, &dto, domain.EntityAnnotation, ""); err != nil {
		return Annotation{}, err
	}
	return dto.toAnnotation(), nil
}

func (r *REST) CreateMapAnnotation(ctx context.Context, pairs []KeyValue) (Annotation, error) {
	body := make([]keyValueDTO, 0, len(pairs))
	for _, p := range pairs {
		body = append(body, keyValueDTO(p))
	}
	var dto annotationDTO
	if err := r.call(ctx, http.MethodPost, "/m/mapannotations", map[string]any{"pairs": body}, &dto, domain.EntityAnnotation, ""); err != nil {
		return Annotation{}, err
	}
	return dto.toAnnotation(), nil
}

func (r *REST) SaveAnnotation(ctx context.Context, ann Annotation) error {
	pairs := make([]keyValueDTO, 0, len(ann.Pairs))
	for _, p := range ann.Pairs {
		pairs = append(pairs, keyValueDTO(p))
	}
	body := annotationDTO{ID: ann.ID, Kind: string(ann.Kind), Value: ann.Value, Pairs: pairs}
	return r.call(ctx, http.MethodPut, "/m/annotations/"+ann.ID, body, nil, domain.EntityAnnotation, ann.ID)
}

func (r *REST) LinkAnnotation(ctx context.Context, ref ObjectRef, annotationID string) error {
	body := map[string]string{"parent_type": string(ref.Type), "parent_id": ref.ID, "annotation": annotationID}
	return r.call(ctx, http.MethodPost, "/m/annotationlinks", body, nil, domain.EntityAnnotation, annotationID)
}

func (r *REST) DeleteAnnotations(ctx context.Context, ids []string) error {
	return r.call(ctx, http.MethodPost, "/m/annotations/delete", map[string][]string{"ids": ids}, nil, domain.EntityAnnotation, "")
}

func (r *REST) UploadAttachment(ctx context.Context, name string, reader io.Reader) (Annotation, error) {
	if err := r.check(); err != nil {
		return Annotation{}, err
	}
	var dto annotationDTO
	resp, err := r.http.R().
		SetContext(ctx).
		SetFileReader("file", name, reader).
		SetResult(&dto).
		SetError(&apiError{}).
		Post("/m/fileannotations")
	if err != nil {
		return Annotation{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if resp.IsError() {
		return Annotation{}, fmt.Errorf("upload %s: %s", name, resp.Status())
	}
	return dto.toAnnotation(), nil
}

func (r *REST) stream(ctx context.Context, path string, w io.Writer, entity domain.EntityType, id string) error {
	if err := r.check(); err != nil {
		return err
	}
	resp, err := r.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if resp.StatusCode() == http.StatusNotFound {
		return domain.NotFoundError{Entity: entity, ID: id}
	}
	if resp.IsError() {
		return fmt.Errorf("GET %s: %s", path, resp.Status())
	}
	_, err = io.Copy(w, body)
	return err
}

func (r *REST) DownloadAttachment(ctx context.Context, annotationID string, w io.Writer) error {
	return r.stream(ctx, "/m/fileannotations/"+annotationID+"/file", w, domain.EntityFileAnnotation, annotationID)
}

var _ Client = (*REST)(nil)
