package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"newcamera/pkg/camera"
	"newcamera/pkg/display"
	"newcamera/pkg/preview"
	"newcamera/pkg/storage"
	"newcamera/pkg/utils"
)

// 在一个 main 里循环完成以下流程：
// 1) 以独占模式初始化并读若干预览帧
// 2) 预览进行时拍照（保存到图片目录，随后确认预览恢复）
// 3) 模拟设备故障，确认以共享模式重新初始化
// 4) 清理两次（第二次应为空操作）
func main() {
	dev := flag.String("dev", camera.DefaultDevice, "视频设备路径")
	driver := flag.String("driver", camera.DriverV4L2, "驱动: v4l2 或 webcam")
	dir := flag.String("dir", "./pictures", "图片保存目录")
	pw := flag.Int("pw", 1280, "预览宽度")
	ph := flag.Int("ph", 720, "预览高度")
	cw := flag.Int("cw", 1920, "拍照宽度")
	ch := flag.Int("ch", 1080, "拍照高度")
	n := flag.Int("n", 10, "每个阶段读取的预览帧数")
	loops := flag.Int("loops", 0, "循环次数，0 表示一直循环")
	timeout := flag.Duration("timeout", 5*time.Second, "读帧超时时间")
	flag.Parse()

	_ = utils.SetLevel("debug")
	ctx := context.Background()

	opts := camera.DefaultOptions()
	opts.PreviewWidth, opts.PreviewHeight = *pw, *ph
	opts.CaptureWidth, opts.CaptureHeight = *cw, *ch
	device, err := camera.Open(ctx, *driver, *dev, opts)
	if err != nil {
		fmt.Println("打开设备失败:", err)
		os.Exit(1)
	}
	lib, err := storage.New(*dir)
	if err != nil {
		fmt.Println("图片目录无效:", err)
		os.Exit(1)
	}

	surface := preview.New()
	ctrl := camera.NewController(camera.Dependencies{
		Device:   device,
		Surface:  surface,
		Request:  display.NewRequest(display.NewInhibitor("session-test")),
		Rotation: &display.Info{},
		Library:  lib,
	})
	frames, unsubscribe := surface.Subscribe()
	defer unsubscribe()

	for iter := 1; *loops == 0 || iter <= *loops; iter++ {
		fmt.Printf("\n===== 循环第 %d 次 =====\n", iter)

		// 1) 初始化并读帧
		fmt.Printf("[1/4] 初始化，读取 %d 帧...\n", *n)
		if err := ctrl.Initialize(ctx, camera.ExclusiveControl); err != nil {
			fmt.Println("Initialize 失败:", err)
			os.Exit(1)
		}
		fmt.Println("状态:", ctrl.Status())
		readFrames(frames, *n, *timeout)

		// 2) 预览进行时拍照
		fmt.Printf("[2/4] 预览进行时拍照: %dx%d...\n", *cw, *ch)
		path, err := ctrl.Capture(ctx)
		if err != nil {
			fmt.Println("Capture 失败:", err)
			os.Exit(1)
		}
		if fi, err := os.Stat(path); err == nil {
			fmt.Printf("保存 %s，大小 %d 字节\n", path, fi.Size())
		}
		fmt.Printf("拍照后继续读取 %d 帧以验证预览恢复...\n", *n)
		readFrames(frames, *n, *timeout)

		// 3) 模拟设备故障
		fmt.Println("[3/4] 模拟设备故障...")
		ctrl.DeviceFailed(camera.FailureStreamLost, "session-test")
		if ctrl.Mode() != camera.SharedReadOnly || !ctrl.IsPreviewing() {
			fmt.Println("未能以共享模式恢复:", ctrl.Snapshot())
			os.Exit(1)
		}
		fmt.Println("状态:", ctrl.Status())
		readFrames(frames, *n, *timeout)

		// 4) 清理
		fmt.Println("[4/4] 清理...")
		for i := 0; i < 2; i++ {
			if err := ctrl.Cleanup(ctx); err != nil {
				fmt.Println("Cleanup 失败:", err)
			}
		}
		fmt.Printf("清理后: %+v\n", ctrl.Snapshot())

		// 每轮之间稍作等待，避免过于频繁重配设备
		time.Sleep(500 * time.Millisecond)
	}
}

func readFrames(ch <-chan []byte, n int, timeout time.Duration) {
	got := 0
	for got < n {
		select {
		case frame := <-ch:
			fmt.Printf("预览帧 %d，长度: %d 字节\n", got+1, len(frame))
			got++
		case <-time.After(timeout):
			fmt.Println("读取预览帧超时")
			os.Exit(1)
		}
	}
}
