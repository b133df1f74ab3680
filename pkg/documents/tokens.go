package documents

import (
	"context"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/marmos91/dittodrive/pkg/drive"
)

const downloadTokenIssuer = "dittodrive"

type downloadClaims struct {
	jwt.RegisteredClaims
	IDs       []string `json:"ids"`
	VersionID string   `json:"version_id,omitempty"`
	CompanyID string   `json:"company_id"`
	UserID    string   `json:"user_id"`
}

// DownloadGetToken issues a short-lived token allowing the caller's
// identity to download ids (and optionally one version) without other
// credentials, e.g. from a plain browser link.
func (s *Service) DownloadGetToken(ctx context.Context, ids []string, versionID string, ec drive.ExecutionContext) (_ string, err error) {
	defer s.observe("download_get_token", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", newError(KindInvalidOperation, "", "no items to download")
	}
	for _, id := range ids {
		if err := s.requireAccess(ctx, ec, id, nil, drive.LevelRead); err != nil {
			return "", err
		}
	}

	now := s.now()
	claims := downloadClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    downloadTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.DownloadTokenTTL)),
		},
		IDs:       sortedCopy(ids),
		VersionID: versionID,
		CompanyID: ec.CompanyID,
		UserID:    ec.UserID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", wrapError(KindInternal, "", err, "failed to sign download token")
	}
	return token, nil
}

// ApplyDownloadTokenToContext validates a download token for exactly ids
// and versionID and returns the execution context it was issued for.
func (s *Service) ApplyDownloadTokenToContext(ids []string, versionID, token string) (drive.ExecutionContext, error) {
	var claims downloadClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(downloadTokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return drive.ExecutionContext{}, wrapError(KindUnauthorized, "", err, "invalid download token")
	}
	if !slices.Equal(claims.IDs, sortedCopy(ids)) || claims.VersionID != versionID {
		return drive.ExecutionContext{}, newError(KindUnauthorized, "", "download token does not cover this request")
	}
	return drive.ExecutionContext{CompanyID: claims.CompanyID, UserID: claims.UserID}, nil
}

func sortedCopy(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

// GetAccess returns the caller's level on an item or virtual folder.
func (s *Service) GetAccess(ctx context.Context, id string, ec drive.ExecutionContext) (_ drive.Level, err error) {
	defer s.observe("get_access", time.Now(), &err)
	if err := checkContext(ctx, ec); err != nil {
		return drive.LevelNone, err
	}
	var item *drive.DriveItem
	if !drive.IsVirtualFolder(id) {
		if item, err = s.getItem(ctx, ec.CompanyID, id); err != nil {
			return drive.LevelNone, err
		}
	}
	level, err := s.access.GetAccessLevel(ctx, id, item, ec)
	if err != nil {
		return drive.LevelNone, wrapError(KindInternal, id, err, "access check failed")
	}
	return level, nil
}
