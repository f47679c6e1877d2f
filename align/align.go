package align

import (
	"context"
	"regexp"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/cloudalign/pointcloud"
	"go.viam.com/cloudalign/utils"
)

// Method identifies an alignment algorithm.
type Method int

const (
	// MethodCOM is center-of-mass alignment.
	MethodCOM Method = iota
	// MethodPCA is principal-component alignment.
	MethodPCA
	// MethodRigidCPD is the rigid coherent-point-drift model.
	MethodRigidCPD
)

// Method names are matched case-insensitively and tolerate truncation, e.g.
// "c", "co", "COM" all select center-of-mass alignment.
var (
	comRegex   = regexp.MustCompile(`(?i)^co?m?$`)
	pcaRegex   = regexp.MustCompile(`(?i)^pc?a?$`)
	rigidRegex = regexp.MustCompile(`(?i)^ri?g?i?d?$`)
)

func (m Method) String() string {
	switch m {
	case MethodCOM:
		return "com"
	case MethodPCA:
		return "pca"
	case MethodRigidCPD:
		return "rigid"
	default:
		return "unknown"
	}
}

// ParseMethod maps a method selection string onto a Method. An unrecognized
// value is a configuration error.
func ParseMethod(s string) (Method, error) {
	switch {
	case comRegex.MatchString(s):
		return MethodCOM, nil
	case pcaRegex.MatchString(s):
		return MethodPCA, nil
	case rigidRegex.MatchString(s):
		return MethodRigidCPD, nil
	default:
		return 0, errors.Errorf("alignment method %q not understood; options are com, pca, rigid", s)
	}
}

// Config drives AlignPoints.
type Config struct {
	// Method selects the alignment algorithm (see ParseMethod).
	Method string
	// MovingSelection selects the clouds that will be transformed.
	MovingSelection string
	// StationarySelection must select exactly one reference cloud. The
	// reference cloud is never modified.
	StationarySelection string
	// CPD configures the rigid CPD model; ignored by the other methods.
	CPD CPDParams
}

// alignOne identifies the transform for a single moving cloud and applies it
// in place.
func alignOne(
	ctx context.Context,
	method Method,
	cfg Config,
	moving pointcloud.Named,
	stationary *pointcloud.PointCloud,
	logger golog.Logger,
) error {
	logger.Infow("aligning point cloud", "name", moving.Name, "points", moving.Cloud.Size(), "method", method.String())

	var t *AffineTransform
	var err error
	switch method {
	case MethodCOM:
		t, err = AlignViaCOM(moving.Cloud, stationary)
	case MethodPCA:
		t, err = AlignViaPCA(moving.Cloud, stationary, logger)
	case MethodRigidCPD:
		var rt *RigidCPDTransform
		rt, err = AlignViaRigidCPD(ctx, cfg.CPD, moving.Cloud, stationary, logger)
		if err == nil {
			t, err = rt.Transform()
		}
	default:
		err = errors.Errorf("unknown alignment method %d", method)
	}
	if err != nil {
		return errors.Wrapf(err, "aligning %q", moving.Name)
	}

	if err := t.ApplyTo(moving.Cloud); err != nil {
		return errors.Wrapf(err, "transforming %q", moving.Name)
	}
	logger.Infow("transformed point cloud", "name", moving.Name, "translation", t.Translation(), "det", t.Det())
	return nil
}

// AlignPoints aligns every selected moving cloud to the single selected
// stationary cloud, mutating the moving clouds in place. The per-cloud
// alignments are independent and run concurrently; the stationary cloud is
// read-only and shared.
func AlignPoints(ctx context.Context, cfg Config, coll *pointcloud.Collection, logger golog.Logger) error {
	method, err := ParseMethod(cfg.Method)
	if err != nil {
		return err
	}
	if method == MethodRigidCPD && cfg.CPD == (CPDParams{}) {
		cfg.CPD = DefaultCPDParams()
	}

	stationaryClouds, err := coll.Select(cfg.StationarySelection)
	if err != nil {
		return err
	}
	if len(stationaryClouds) != 1 {
		return errors.Errorf("a single stationary point cloud must be selected; %q matched %d",
			cfg.StationarySelection, len(stationaryClouds))
	}
	stationary := stationaryClouds[0].Cloud

	movingClouds, err := coll.Select(cfg.MovingSelection)
	if err != nil {
		return err
	}
	if len(movingClouds) == 0 {
		logger.Warnw("no moving point clouds selected", "selection", cfg.MovingSelection)
		return nil
	}

	fs := make([]utils.SimpleFunc, 0, len(movingClouds))
	for _, moving := range movingClouds {
		if moving.Cloud == stationary {
			// aligning the reference to itself is a no-op, and mutating it
			// here would race with the other alignments reading it
			logger.Debugw("skipping stationary cloud in moving selection", "name", moving.Name)
			continue
		}
		movingCopy := moving
		fs = append(fs, func(ctx context.Context) error {
			return alignOne(ctx, method, cfg, movingCopy, stationary, logger)
		})
	}
	_, err = utils.RunInParallel(ctx, fs)
	return err
}
