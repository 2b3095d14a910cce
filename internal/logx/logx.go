package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/snipline/schema"
)

type contextKey int

const (
	pageKey contextKey = iota
	surfaceKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithPage annotates the logger with the page id if present.
func WithPage(ctx context.Context, pageID schema.PageID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if pageID != "" {
		if current, ok := ctx.Value(pageKey).(schema.PageID); ok && current == pageID {
			return log
		}
		log = log.With("page", pageID)
	}
	return log
}

// WithPageSurface annotates the logger with page and surface identifiers.
func WithPageSurface(ctx context.Context, pageID schema.PageID, surfaceID schema.SurfaceID) pslog.Logger {
	log := WithPage(ctx, pageID)
	if surfaceID != "" {
		if current, ok := ctx.Value(surfaceKey).(schema.SurfaceID); ok && current == surfaceID {
			return log
		}
		log = log.With("surface", surfaceID)
	}
	return log
}

// WithShortcut annotates the logger with shortcut metadata when available.
func WithShortcut(log pslog.Logger, sc schema.Shortcut) pslog.Logger {
	if sc.ID != "" {
		log = log.With("shortcut", sc.ID)
	}
	if sc.Trigger != "" {
		log = log.With("trigger", sc.Trigger)
	}
	return log
}

// WithAction annotates the logger with a channel action tag.
func WithAction(log pslog.Logger, action schema.ActionTag) pslog.Logger {
	if action != "" {
		log = log.With("action", action)
	}
	return log
}

// ContextWithPage stores the page marker on the context for log de-duplication.
func ContextWithPage(ctx context.Context, pageID schema.PageID) context.Context {
	if ctx == nil || pageID == "" {
		return ctx
	}
	return context.WithValue(ctx, pageKey, pageID)
}

// ContextWithSurface stores the surface marker on the context for log de-duplication.
func ContextWithSurface(ctx context.Context, surfaceID schema.SurfaceID) context.Context {
	if ctx == nil || surfaceID == "" {
		return ctx
	}
	return context.WithValue(ctx, surfaceKey, surfaceID)
}

// ContextWithPageLogger attaches the logger and page marker to the context.
func ContextWithPageLogger(ctx context.Context, log pslog.Logger, pageID schema.PageID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithPage(ctx, pageID)
}

// ContextWithPageSurfaceLogger attaches the logger and page/surface markers to the context.
func ContextWithPageSurfaceLogger(ctx context.Context, log pslog.Logger, pageID schema.PageID, surfaceID schema.SurfaceID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSurface(ContextWithPage(ctx, pageID), surfaceID)
}

// CopyContextFields copies page/surface markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if page, ok := src.Value(pageKey).(schema.PageID); ok && page != "" {
		dst = ContextWithPage(dst, page)
	}
	if surface, ok := src.Value(surfaceKey).(schema.SurfaceID); ok && surface != "" {
		dst = ContextWithSurface(dst, surface)
	}
	return dst
}
