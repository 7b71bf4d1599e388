package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/ABMC/internal/app"
	"github.com/John-Robertt/ABMC/internal/app/planner"
	"github.com/John-Robertt/ABMC/internal/config"
	"github.com/John-Robertt/ABMC/internal/cover"
	"github.com/John-Robertt/ABMC/internal/domain"
	"github.com/John-Robertt/ABMC/internal/ffmeta"
	"github.com/John-Robertt/ABMC/internal/ffmpeg"
	"github.com/John-Robertt/ABMC/internal/infra/cache"
	"github.com/John-Robertt/ABMC/internal/infra/fsx"
	"github.com/John-Robertt/ABMC/internal/infra/httpx"
	"github.com/John-Robertt/ABMC/internal/scan"
	"github.com/John-Robertt/ABMC/internal/titles"
)

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 RunReport。
func Execute(ctx context.Context, eff config.EffectiveConfig, eng ffmpeg.Engine) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, eng, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
//
// 阶段顺序固定：scan -> order -> titles -> probe -> plan -> cover -> encode -> report。
// 任何致命失败都在 report 中留下条目后返回；编码器在输入不完整时绝不会被调用。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, eng ffmpeg.Engine, obs Observer) domain.RunReport {
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	root := rootDir(eff)
	outPath := filepath.Join(root, "out", eff.Title+".m4b")

	rr := domain.RunReport{
		Path:      eff.Path,
		DryRun:    !eff.Apply,
		Output:    outPath,
		StartedAt: started,
		Items:     make([]domain.ChapterResult, 0, 64),
	}
	finish := func() domain.RunReport {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		writeReport(eff, root, rr)
		return rr
	}

	store := cache.New(root, !eff.Apply)

	// scan
	scanStarted := time.Now()
	sources, malformed, err := collectSources(eff)
	if err != nil {
		// 输入路径不存在是独立的错误码；其余扫描失败统一归 io_failed。
		if errors.Is(err, fs.ErrNotExist) {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeMissingInput, fmt.Sprintf("输入路径不存在：%q", eff.Path)))
		} else {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err)))
		}
		return finish()
	}
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{
			"files": len(sources) + len(malformed),
		}, time.Since(scanStarted))
		obs.OnPhaseDone("order", map[string]any{
			"chapters":  len(sources),
			"malformed": len(malformed),
		}, 0)
	}

	if len(sources) == 0 && len(malformed) == 0 {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeMissingInput, fmt.Sprintf("在 %q 下未发现任何音频文件（.mp3/.m4a/.aac）", root)))
		return finish()
	}

	// order：命名不合规的文件逐条呈现，并使整次 run 失败（编码器不会被调用）。
	if len(malformed) > 0 {
		for _, m := range malformed {
			rr.Items = append(rr.Items, malformedItem(m))
		}
		return finish()
	}

	// titles：配置来源失败是错误（用户显式指定的文件必须可用）；tag 兜底是 best-effort。
	if !eff.SingleFile {
		titlesStarted := time.Now()
		applied, err := enrichTitles(eff, sources)
		if err != nil {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, err.Error()))
			return finish()
		}
		if obs != nil {
			obs.OnPhaseDone("titles", map[string]any{"applied": applied}, time.Since(titlesStarted))
		}
	}

	// probe：并发探测时长；结果写回 sources（按下标，无共享写）。
	probeStarted := time.Now()
	probeErrs := probeAll(ctx, eff, eng, store, sources, obs)
	if obs != nil {
		obs.OnPhaseDone("probe", map[string]any{
			"chapters": len(sources),
			"workers":  eff.Concurrency,
		}, time.Since(probeStarted))
	}

	if hasErr(probeErrs) {
		for i := range sources {
			res := domain.ChapterResult{
				Index:  i + 1,
				Src:    sources[i].File.RelPath,
				Title:  sources[i].Title,
				Status: domain.StatusPlanned,
			}
			if probeErrs[i] != nil {
				res.Status = domain.StatusFailed
				res.ErrorCode = domain.ErrCodeProbeFailed
				res.ErrorMsg = probeErrs[i].Error()
			}
			rr.Items = append(rr.Items, res)
		}
		return finish()
	}

	// plan：累计偏移，时间轴连续无缝。
	planStarted := time.Now()
	chapters, zeroIdx, err := planner.Timeline(sources)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeProbeFailed, fmt.Sprintf("时间轴规划失败：%v", err)))
		return finish()
	}
	if obs != nil {
		obs.OnPhaseDone("plan", map[string]any{
			"chapters":      len(chapters),
			"total_ms":      planner.TotalMS(chapters),
			"zero_duration": len(zeroIdx),
		}, time.Since(planStarted))
	}

	zero := make(map[int]bool, len(zeroIdx))
	for _, i := range zeroIdx {
		zero[i] = true
	}
	for i := range chapters {
		res := domain.ChapterResult{
			Index:   i + 1,
			Src:     sources[i].File.RelPath,
			Title:   chapters[i].Title,
			StartMS: chapters[i].StartMS,
			EndMS:   chapters[i].EndMS,
			Status:  domain.StatusPlanned,
		}
		if zero[i] {
			res.Warning = domain.WarnZeroDuration
		}
		rr.Items = append(rr.Items, res)
	}

	// cover
	coverStarted := time.Now()
	coverJPEG, coverSrc, err := resolveCover(ctx, eff, root, sources)
	if err != nil {
		rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, err.Error()))
		return finish()
	}
	if obs != nil {
		obs.OnPhaseDone("cover", map[string]any{"source": coverSrc}, time.Since(coverStarted))
	}

	if !eff.Apply {
		return finish()
	}

	// encode：一次性调用外部编码器；失败不重试。
	book := domain.Book{
		Title:     eff.Title,
		Author:    eff.Author,
		CoverJPEG: coverJPEG,
		Chapters:  chapters,
	}
	if obs != nil {
		obs.OnPhaseDone("encode_start", map[string]any{
			"output":  outPath,
			"bitrate": eff.Bitrate,
		}, 0)
	}
	encodeStarted := time.Now()
	if code, err := encode(ctx, eff, eng, root, outPath, sources, book); err != nil {
		markAllFailed(rr.Items, code, err.Error())
		return finish()
	}
	if obs != nil {
		obs.OnPhaseDone("encode", map[string]any{"output": outPath}, time.Since(encodeStarted))
	}

	for i := range rr.Items {
		if rr.Items[i].Status == domain.StatusPlanned {
			rr.Items[i].Status = domain.StatusEncoded
		}
	}
	return finish()
}

// rootDir 返回扫描/产物根目录：目录模式即 Path，单文件模式取所在目录。
func rootDir(eff config.EffectiveConfig) string {
	if eff.SingleFile {
		return filepath.Dir(eff.Path)
	}
	return eff.Path
}

// collectSources 把输入统一为有序的章节源列表。
// 单文件模式：整本书一个章节，标题即书名。
func collectSources(eff config.EffectiveConfig) ([]domain.ChapterSource, []domain.Malformed, error) {
	if eff.SingleFile {
		fi, err := os.Stat(eff.Path)
		if err != nil {
			return nil, nil, err
		}
		base := filepath.Base(eff.Path)
		ext := filepath.Ext(base)
		src := domain.ChapterSource{
			File: domain.AudioFile{
				AbsPath: eff.Path,
				RelPath: base,
				Base:    strings.TrimSuffix(base, ext),
				Ext:     strings.ToLower(ext),
				Size:    fi.Size(),
				ModUnix: fi.ModTime().Unix(),
			},
			Key:   domain.SortKey{Num: 1},
			Title: eff.Title,
		}
		return []domain.ChapterSource{src}, nil, nil
	}

	files, err := scan.ScanAudio(eff.Path, eff.ExcludeDirs)
	if err != nil {
		return nil, nil, err
	}
	sources, malformed := app.OrderChapters(files)
	return sources, malformed, nil
}

// enrichTitles 按优先级补充章节标题：titles_file > epub TOC > 内嵌 tag。
// 返回覆盖到“清单来源”的条数（tag 兜底不计入）。
func enrichTitles(eff config.EffectiveConfig, sources []domain.ChapterSource) (int, error) {
	if eff.TitlesFile != "" {
		list, err := titles.LoadFile(eff.TitlesFile)
		if err != nil {
			return 0, fmt.Errorf("读取 titles_file 失败：%v", err)
		}
		return titles.Apply(sources, list), nil
	}
	if eff.EPUB != "" {
		list, err := titles.FromEPUB(eff.EPUB)
		if err != nil {
			return 0, fmt.Errorf("从 EPUB 提取目录失败：%v", err)
		}
		return titles.Apply(sources, list), nil
	}
	titles.ApplyTags(sources)
	return 0, nil
}

// probeAll 并发探测所有章节源的时长；结果按下标写回。
// 探测只读文件，偏移累计发生在 plan 阶段（按输入顺序），因此并发不影响确定性。
func probeAll(ctx context.Context, eff config.EffectiveConfig, eng ffmpeg.Engine, store cache.Store, sources []domain.ChapterSource, obs Observer) []error {
	errs := make([]error, len(sources))

	var g errgroup.Group
	limit := eff.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	total := len(sources)
	for i := range sources {
		i := i
		g.Go(func() error {
			oneStarted := time.Now()
			res, err := probeOne(ctx, eng, store, &sources[i])
			errs[i] = err

			if obs != nil {
				cr := domain.ChapterResult{
					Index:  i + 1,
					Src:    sources[i].File.RelPath,
					Title:  sources[i].Title,
					Status: domain.StatusPlanned,
				}
				if err != nil {
					cr.Status = domain.StatusFailed
					cr.ErrorCode = domain.ErrCodeProbeFailed
					cr.ErrorMsg = err.Error()
				} else {
					cr.EndMS = res.DurationMS
				}
				obs.OnItemDone(i+1, total, sources[i].File.RelPath, cr, time.Since(oneStarted))
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func probeOne(ctx context.Context, eng ffmpeg.Engine, store cache.Store, src *domain.ChapterSource) (ffmpeg.ProbeResult, error) {
	// 先查缓存（name+size+mtime 命中才有效）。
	if e, ok, err := store.ReadProbe(src.File.RelPath, src.File.Size, src.File.ModUnix); err == nil && ok {
		src.DurationMS = e.DurationMS
		return ffmpeg.ProbeResult{DurationMS: e.DurationMS, Codec: e.Codec}, nil
	}

	res, err := eng.Probe(ctx, src.File.AbsPath)
	if err != nil {
		return ffmpeg.ProbeResult{}, err
	}
	src.DurationMS = res.DurationMS

	// dry-run 是只读的：缓存只在 apply 写回。
	if !store.ReadOnly {
		_ = store.WriteProbe(src.File.RelPath, cache.ProbeEntry{
			Size:       src.File.Size,
			ModUnix:    src.File.ModUnix,
			DurationMS: res.DurationMS,
			Codec:      res.Codec,
		})
	}
	return res, nil
}

// resolveCover 解析封面；dry-run 不出网（cover_url 跳过）。
func resolveCover(ctx context.Context, eff config.EffectiveConfig, root string, sources []domain.ChapterSource) ([]byte, string, error) {
	opts := cover.Options{
		Root:     root,
		Title:    eff.Title,
		Explicit: eff.Cover,
		CoverURL: eff.CoverURL,
	}
	if len(sources) > 0 {
		opts.FirstChapter = sources[0].File.AbsPath
	}
	if eff.Apply && eff.CoverURL != "" {
		client, err := httpx.NewCoverClient(eff.ProxyURL, eff.CoverProxy)
		if err != nil {
			return nil, "", err
		}
		opts.Client = client
	}
	b, src, err := cover.Resolve(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	if src == "" {
		src = "none"
	}
	return b, src, nil
}

// encode 写工作文件、调用编码器、把临时产物 rename 到最终书名。
// 返回失败时对应的 error_code。
func encode(ctx context.Context, eff config.EffectiveConfig, eng ffmpeg.Engine, root, outPath string, sources []domain.ChapterSource, book domain.Book) (string, error) {
	outDir := filepath.Dir(outPath)

	// 成书不允许覆盖：先检查再编码，避免白烧 CPU。
	if err := fsx.CheckNoOverwrite(outPath); err != nil {
		if fsx.IsPathTypeConflict(err) {
			return domain.ErrCodeTargetConflict, err
		}
		if errors.Is(err, os.ErrExist) {
			return domain.ErrCodeTargetConflict, fmt.Errorf("成书已存在：%q（不允许覆盖，请先移走或删除）", outPath)
		}
		return domain.ErrCodeIOFailed, err
	}

	workDir := filepath.Join(root, "cache", "work")
	paths := make([]string, 0, len(sources))
	for i := range sources {
		paths = append(paths, sources[i].File.AbsPath)
	}
	if err := fsx.WriteFileAtomicReplace(workDir, "filelist.txt", ffmpeg.WriteConcatList(paths)); err != nil {
		return domain.ErrCodeIOFailed, fmt.Errorf("写入 filelist 失败：%v", err)
	}
	if err := fsx.WriteFileAtomicReplace(workDir, "ffmeta.txt", ffmeta.Encode(book)); err != nil {
		return domain.ErrCodeIOFailed, fmt.Errorf("写入 FFMETADATA 失败：%v", err)
	}
	coverPath := ""
	if len(book.CoverJPEG) > 0 {
		coverPath = filepath.Join(workDir, "cover.jpg")
		if err := fsx.WriteFileAtomicReplace(workDir, "cover.jpg", book.CoverJPEG); err != nil {
			return domain.ErrCodeIOFailed, fmt.Errorf("写入封面失败：%v", err)
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return domain.ErrCodeIOFailed, err
	}

	// 先编码到临时名：中断/失败不会留下半截的 <title>.m4b。
	tmp := filepath.Join(outDir, "."+eff.Title+".m4b.part")
	job := ffmpeg.Job{
		ConcatList: filepath.Join(workDir, "filelist.txt"),
		Metadata:   filepath.Join(workDir, "ffmeta.txt"),
		Cover:      coverPath,
		Title:      book.Title,
		Author:     book.Author,
		Bitrate:    eff.Bitrate,
		Output:     tmp,
	}
	if err := eng.Encode(ctx, job); err != nil {
		return domain.ErrCodeEncodeFailed, err
	}

	if err := fsx.Rename(tmp, outPath); err != nil {
		if fsx.IsPathTypeConflict(err) {
			return domain.ErrCodeTargetConflict, err
		}
		return domain.ErrCodeIOFailed, err
	}
	return "", nil
}

func malformedItem(m domain.Malformed) domain.ChapterResult {
	msg := ""
	switch m.Kind {
	case "bad_key":
		msg = fmt.Sprintf("文件名 %q 的章节序号无法解析；期望形如 Chapter 1 或 Chapter 0.5", m.File.Base)
	default:
		msg = fmt.Sprintf("文件名 %q 不符合章节命名约定；期望形如 \"Chapter 1 - 标题.mp3\"", m.File.Base)
	}
	return domain.ChapterResult{
		Index:     0,
		Src:       m.File.RelPath,
		Status:    domain.StatusMalformed,
		ErrorCode: domain.ErrCodeMalformedName,
		ErrorMsg:  msg,
	}
}

func syntheticFailed(code, msg string) domain.ChapterResult {
	return domain.ChapterResult{
		Index:     0,
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

// markAllFailed 把所有章节条目标记为失败。
// 编码是整本书一次性的：error_msg（可能含大段 stderr）只放在第一条，避免重复。
// warning 只对进入成书的章节有意义，失败条目上一并清掉，summary.warnings 不计入。
func markAllFailed(items []domain.ChapterResult, code, msg string) {
	first := true
	for i := range items {
		if items[i].Index == 0 {
			continue
		}
		items[i].Status = domain.StatusFailed
		items[i].ErrorCode = code
		items[i].Warning = ""
		if first {
			items[i].ErrorMsg = msg
			first = false
		}
	}
}

func hasErr(errs []error) bool {
	for _, e := range errs {
		if e != nil {
			return true
		}
	}
	return false
}

// writeReport 把 report.json 落盘（仅 apply；best-effort，不影响退出语义）。
func writeReport(eff config.EffectiveConfig, root string, rr domain.RunReport) {
	if !eff.Apply {
		return
	}
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return
	}
	_ = fsx.WriteFileAtomicReplace(filepath.Join(root, "cache"), "report.json", b)
}
