package main

import (
	"campusadmin/internal/identity"
	"campusadmin/pkg/config"
	"campusadmin/pkg/logger"
	"context"
	"fmt"
)

// seedData 初始化超级运营账号
func seedData(ctx context.Context, cfg *config.Config, provider *identity.Provider) error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting seed data initialization...")

	if cfg.Seed.SuperOperatorEmail == "" || cfg.Seed.SuperOperatorSecret == "" {
		appLogger.Warn("未配置超级运营账号，跳过创建")
		return nil
	}

	operator, err := provider.EnsureSuperOperator(ctx, cfg.Seed.SuperOperatorEmail, cfg.Seed.SuperOperatorSecret)
	if err != nil {
		return fmt.Errorf("创建超级运营账号失败: %v", err)
	}

	appLogger.WithField("email", operator.Email).Info("超级运营账号已就绪")
	return nil
}
